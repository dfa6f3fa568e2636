// Package service implements document ingestion: upload validation, binary
// storage, thumbnailing and kicking off the processing pipeline.
package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/gabriel-vasile/mimetype"
)

// Allowed MIME types for document uploads. image/jpg is a common alias some
// clients still send.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"message/rfc822":  true,
}

// JobEnqueuer is the slice of the job queue the document service needs.
type JobEnqueuer interface {
	Enqueue(jobType string, payload interface{}, opts services.EnqueueOptions) (string, error)
}

// DocumentService handles document ingestion business logic.
type DocumentService struct {
	store       store.DocumentStore
	fileStorage FileStorage
	jobs        JobEnqueuer
	signingKey  []byte
}

// NewDocumentService creates a new document service.
func NewDocumentService(documentStore store.DocumentStore, fileStorage FileStorage, jobs JobEnqueuer, signingKey string) *DocumentService {
	return &DocumentService{
		store:       documentStore,
		fileStorage: fileStorage,
		jobs:        jobs,
		signingKey:  []byte(signingKey),
	}
}

// UploadDocument validates and stores an uploaded file, creates the document
// record in `pending` state, and schedules the text-extraction job. The
// record insert happens before the enqueue so a lost job can be re-driven
// from the stored document; an enqueue failure is logged but never fails the
// upload.
func (s *DocumentService) UploadDocument(ctx context.Context, userID string, file io.Reader, fileSize int64, fileName string) (*types.DocumentUploadResponse, error) {
	log := logger.GetLogger()

	// Server-side MIME detection: sniff the first 512 bytes to verify content
	// type, ignoring the client-provided Content-Type.
	sniffBuf := make([]byte, 512)
	n, err := io.ReadFull(file, sniffBuf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	mimeType := mimetype.Detect(sniffBuf[:n]).String()
	// mimetype appends parameters for text-based types (e.g. "; charset=utf-8")
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	if !allowedMimeTypes[mimeType] {
		return nil, apperrors.ValidationFailed("invalid_mime_type",
			fmt.Sprintf("MIME type %s is not allowed. Allowed: pdf, jpeg, png, eml", mimeType))
	}

	// Reconstruct reader with sniffed bytes prepended.
	file = io.MultiReader(bytes.NewReader(sniffBuf[:n]), file)
	cr := &countingReader{r: io.LimitReader(file, MaxFileSize+1)}

	storagePath := fmt.Sprintf("documents/%s/%d_%s", userID, time.Now().UnixNano(), sanitizeFilename(fileName))

	if err := s.fileStorage.Save(ctx, storagePath, cr, fileSize); err != nil {
		_ = s.fileStorage.Delete(ctx, storagePath)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	// cr.n is authoritative; the client-reported fileSize is ignored.
	if cr.n > MaxFileSize {
		_ = s.fileStorage.Delete(ctx, storagePath)
		return nil, apperrors.ValidationFailed("file_too_large",
			fmt.Sprintf("file exceeds maximum of %d bytes", MaxFileSize))
	}

	var thumbnailPath *string
	if isThumbnailable(mimeType) {
		if p, err := s.saveThumbnail(ctx, storagePath, userID); err != nil {
			log.Warnw("Thumbnail generation failed", "path", storagePath, "error", err)
		} else {
			thumbnailPath = &p
		}
	}

	doc := &types.Document{
		UserID:        userID,
		FileName:      sanitizeFilename(fileName),
		FilePath:      storagePath,
		ThumbnailPath: thumbnailPath,
		FileSize:      cr.n,
		MimeType:      mimeType,
		Status:        types.ProcessingStatusPending,
	}

	if _, err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = s.fileStorage.Delete(ctx, storagePath)
		if thumbnailPath != nil {
			_ = s.fileStorage.Delete(ctx, *thumbnailPath)
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	resp := &types.DocumentUploadResponse{Document: *doc}

	jobID, err := s.jobs.Enqueue(services.JobTypeTextExtraction, services.DocumentJobPayload{
		DocumentID: doc.ID,
		UserID:     userID,
	}, services.EnqueueOptions{})
	if err != nil {
		// The upload already succeeded; processing can be retriggered later.
		log.Errorw("Failed to enqueue text extraction job", "documentId", doc.ID, "error", err)
	} else {
		resp.JobID = jobID
	}

	return resp, nil
}

// saveThumbnail re-reads the stored original and writes a JPEG thumbnail
// alongside it.
func (s *DocumentService) saveThumbnail(ctx context.Context, originalPath, userID string) (string, error) {
	original, err := s.fileStorage.Open(ctx, originalPath)
	if err != nil {
		return "", err
	}
	defer original.Close()

	thumb, size, err := generateThumbnail(original)
	if err != nil {
		return "", err
	}

	thumbPath := fmt.Sprintf("thumbnails/%s/%d_thumb.jpg", userID, time.Now().UnixNano())
	if err := s.fileStorage.Save(ctx, thumbPath, thumb, size); err != nil {
		return "", err
	}
	return thumbPath, nil
}

// GetDocument retrieves a document with signed access URLs.
func (s *DocumentService) GetDocument(ctx context.Context, id, userID string) (*types.DocumentResponse, error) {
	doc, err := s.store.GetDocument(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.DocumentNotFound(id)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	resp := &types.DocumentResponse{
		Document:    *doc,
		DownloadURL: s.GenerateSignedURL(doc.FilePath, 1*time.Hour),
	}
	if doc.ThumbnailPath != nil {
		resp.ThumbnailURL = s.GenerateSignedURL(*doc.ThumbnailPath, 1*time.Hour)
	}
	return resp, nil
}

// ListDocuments returns a page of the user's documents.
func (s *DocumentService) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]types.Document, int64, error) {
	docs, total, err := s.store.ListDocuments(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.NewDatabaseError(err)
	}
	return docs, total, nil
}

// DeleteDocument removes a document row (cascading to its extraction,
// matches and queue item) and then deletes the stored binaries best-effort.
func (s *DocumentService) DeleteDocument(ctx context.Context, id, userID string) error {
	doc, err := s.store.GetDocument(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.DocumentNotFound(id)
		}
		return apperrors.NewDatabaseError(err)
	}

	if err := s.store.DeleteDocument(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.DocumentNotFound(id)
		}
		return apperrors.NewDatabaseError(err)
	}

	_ = s.fileStorage.Delete(ctx, doc.FilePath)
	if doc.ThumbnailPath != nil {
		_ = s.fileStorage.Delete(ctx, *doc.ThumbnailPath)
	}
	return nil
}

// GenerateSignedURL creates an HMAC-signed download URL token.
// The raw format is hex(hmac(path|expiry))|path|expiry, then base64url-encoded
// to avoid issues with / and | characters in URL path parameters.
func (s *DocumentService) GenerateSignedURL(docPath string, expiresIn time.Duration) string {
	expiry := time.Now().Add(expiresIn).Unix()
	message := fmt.Sprintf("%s|%d", docPath, expiry)

	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	raw := fmt.Sprintf("%s|%s|%d", sig, docPath, expiry)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateSignedURL validates an HMAC-signed token and returns the file path.
func (s *DocumentService) ValidateSignedURL(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", apperrors.ValidationFailed("invalid_token", "malformed download token")
	}

	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return "", apperrors.ValidationFailed("invalid_token", "malformed download token")
	}

	sig, docPath, expiryStr := parts[0], parts[1], parts[2]

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return "", apperrors.ValidationFailed("invalid_token", "invalid expiry in token")
	}

	if time.Now().Unix() > expiry {
		return "", apperrors.ValidationFailed("token_expired", "download link has expired")
	}

	message := fmt.Sprintf("%s|%d", docPath, expiry)
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(message))
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expectedSig)) {
		return "", apperrors.ValidationFailed("invalid_token", "invalid signature")
	}

	return docPath, nil
}

// ServeFile validates a signed token and returns the local filesystem path.
func (s *DocumentService) ServeFile(ctx context.Context, token string) (string, error) {
	docPath, err := s.ValidateSignedURL(token)
	if err != nil {
		return "", err
	}
	return s.fileStorage.GetPath(ctx, docPath), nil
}
