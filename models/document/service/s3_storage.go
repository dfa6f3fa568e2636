package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3FileStorage stores files in an S3-compatible bucket (AWS S3, Cloudflare
// R2, MinIO).
type S3FileStorage struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string
}

// NewS3FileStorage creates a new S3-backed file storage instance. endpoint
// may be empty for AWS S3 proper.
func NewS3FileStorage(endpoint, region, bucketName, accessKeyID, secretAccessKey string) (*S3FileStorage, error) {
	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
	}
	if endpoint != "" {
		opts.BaseEndpoint = &endpoint
	}
	client := s3.New(opts)

	return &S3FileStorage{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucketName: bucketName,
	}, nil
}

// validateKey rejects storage keys containing path traversal segments.
func validateKey(key string) error {
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected in storage key")
		}
	}
	return nil
}

// Save uploads a file to the bucket.
func (s *S3FileStorage) Save(ctx context.Context, path string, reader io.Reader, size int64) error {
	if err := validateKey(path); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucketName,
		Key:    &path,
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("s3 put object failed: %w", err)
	}
	return nil
}

// Open downloads a stored object as a stream.
func (s *S3FileStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := validateKey(path); err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucketName,
		Key:    &path,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object failed: %w", err)
	}
	return result.Body, nil
}

// Delete removes a file from the bucket.
func (s *S3FileStorage) Delete(ctx context.Context, path string) error {
	if err := validateKey(path); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucketName,
		Key:    &path,
	})
	if err != nil {
		return fmt.Errorf("s3 delete object failed: %w", err)
	}
	return nil
}

// GetPath returns a presigned download URL with a 5-minute TTL. The
// Content-Disposition header carries the original filename extracted from
// the key.
func (s *S3FileStorage) GetPath(ctx context.Context, path string) string {
	if err := validateKey(path); err != nil {
		return ""
	}
	// Key format: documents/<userID>/<timestamp>_<filename>
	baseName := filepath.Base(path)
	if idx := strings.Index(baseName, "_"); idx >= 0 {
		baseName = baseName[idx+1:]
	}
	disposition := fmt.Sprintf("attachment; filename=%q", baseName)
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     &s.bucketName,
		Key:                        &path,
		ResponseContentDisposition: &disposition,
	}, s3.WithPresignExpires(5*time.Minute))
	if err != nil {
		return ""
	}
	return result.URL
}
