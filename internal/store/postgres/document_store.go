package postgres

import (
	"context"
	"errors"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/jackc/pgx/v5"
)

// DocumentStore implements store.DocumentStore using PostgreSQL.
type DocumentStore struct {
	db DB
}

// NewDocumentStore creates a new DocumentStore instance.
func NewDocumentStore(db DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// CreateDocument inserts a new document row and returns its generated ID.
func (s *DocumentStore) CreateDocument(ctx context.Context, doc *types.Document) (string, error) {
	query := `
		INSERT INTO documents (user_id, file_name, file_path, thumbnail_path, file_size, mime_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		doc.UserID,
		doc.FileName,
		doc.FilePath,
		doc.ThumbnailPath,
		doc.FileSize,
		doc.MimeType,
		doc.Status,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return "", err
	}

	return doc.ID, nil
}

// GetDocument retrieves a document by ID, scoped to its owner. A document
// owned by someone else is indistinguishable from a missing one.
func (s *DocumentStore) GetDocument(ctx context.Context, id, userID string) (*types.Document, error) {
	query := `
		SELECT id, user_id, file_name, file_path, thumbnail_path, file_size, mime_type,
		       status, ocr_confidence, created_at, updated_at
		FROM documents
		WHERE id = $1 AND user_id = $2`

	doc := &types.Document{}
	err := s.db.QueryRow(ctx, query, id, userID).Scan(
		&doc.ID,
		&doc.UserID,
		&doc.FileName,
		&doc.FilePath,
		&doc.ThumbnailPath,
		&doc.FileSize,
		&doc.MimeType,
		&doc.Status,
		&doc.OCRConfidence,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return doc, nil
}

// ListDocuments returns a page of the user's documents, newest first, with
// the total count for pagination.
func (s *DocumentStore) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]types.Document, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM documents WHERE user_id = $1`
	if err := s.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, file_name, file_path, thumbnail_path, file_size, mime_type,
		       status, ocr_confidence, created_at, updated_at
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var doc types.Document
		err := rows.Scan(
			&doc.ID,
			&doc.UserID,
			&doc.FileName,
			&doc.FilePath,
			&doc.ThumbnailPath,
			&doc.FileSize,
			&doc.MimeType,
			&doc.Status,
			&doc.OCRConfidence,
			&doc.CreatedAt,
			&doc.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// UpdateStatus sets the document's pipeline status.
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status types.ProcessingStatus) error {
	query := `
		UPDATE documents
		SET status = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := s.db.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// SetOCRConfidence records the OCR confidence on the document row.
func (s *DocumentStore) SetOCRConfidence(ctx context.Context, id string, confidence int) error {
	query := `
		UPDATE documents
		SET ocr_confidence = $1, updated_at = NOW()
		WHERE id = $2`

	result, err := s.db.Exec(ctx, query, confidence, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// DeleteDocument removes a document and, via ON DELETE CASCADE, its
// extraction, matches and queue item.
func (s *DocumentStore) DeleteDocument(ctx context.Context, id, userID string) error {
	query := `DELETE FROM documents WHERE id = $1 AND user_id = $2`

	result, err := s.db.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}
