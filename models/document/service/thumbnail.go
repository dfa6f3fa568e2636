package service

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// thumbnailWidth is the target width in pixels; height keeps the aspect ratio.
const thumbnailWidth = 200

// generateThumbnail decodes an image and produces a JPEG thumbnail. Only
// called for image uploads; PDF and email documents have no thumbnail.
func generateThumbnail(r io.Reader) (io.Reader, int64, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, 0, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return &buf, int64(buf.Len()), nil
}

// isThumbnailable reports whether the MIME type is an image we can decode.
func isThumbnailable(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}
