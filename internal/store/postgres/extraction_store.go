package postgres

import (
	"context"
	"errors"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/jackc/pgx/v5"
)

// ExtractionStore implements store.ExtractionStore using PostgreSQL. A unique
// index on document_id guarantees at most one extraction per document even
// under concurrent duplicate job deliveries.
type ExtractionStore struct {
	db DB
}

// NewExtractionStore creates a new ExtractionStore instance.
func NewExtractionStore(db DB) *ExtractionStore {
	return &ExtractionStore{db: db}
}

// CreateExtraction inserts the OCR-stage extraction row. Returns
// store.ErrConflict when an extraction already exists for the document.
func (s *ExtractionStore) CreateExtraction(ctx context.Context, ext *types.Extraction) (string, error) {
	query := `
		INSERT INTO extractions (document_id, raw_text, ocr_confidence, ocr_quality)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		ext.DocumentID,
		ext.RawText,
		ext.OCRConfidence,
		ext.OCRQuality,
	).Scan(&ext.ID, &ext.CreatedAt, &ext.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrConflict
		}
		return "", err
	}

	return ext.ID, nil
}

// GetByDocumentID retrieves the extraction for a document.
func (s *ExtractionStore) GetByDocumentID(ctx context.Context, documentID string) (*types.Extraction, error) {
	query := `
		SELECT id, document_id, raw_text, ocr_confidence, ocr_quality,
		       vendor, amount, currency, transaction_date,
		       extraction_confidence, quality_score, created_at, updated_at
		FROM extractions
		WHERE document_id = $1`

	ext := &types.Extraction{}
	err := s.db.QueryRow(ctx, query, documentID).Scan(
		&ext.ID,
		&ext.DocumentID,
		&ext.RawText,
		&ext.OCRConfidence,
		&ext.OCRQuality,
		&ext.Vendor,
		&ext.Amount,
		&ext.Currency,
		&ext.TransactionDate,
		&ext.ExtractionConfidence,
		&ext.QualityScore,
		&ext.CreatedAt,
		&ext.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return ext, nil
}

// UpdateStructuredFields writes the AI-stage output onto the existing
// extraction row. Only rows whose structured fields are still null are
// updated, so a concurrent duplicate run surfaces as ErrConflict.
func (s *ExtractionStore) UpdateStructuredFields(ctx context.Context, extractionID string, fields types.ExtractedFields, qualityScore int) error {
	query := `
		UPDATE extractions
		SET vendor = $1,
			amount = $2,
			currency = $3,
			transaction_date = $4,
			extraction_confidence = $5,
			quality_score = $6,
			updated_at = NOW()
		WHERE id = $7 AND extraction_confidence IS NULL`

	result, err := s.db.Exec(ctx, query,
		fields.Vendor,
		fields.Amount,
		fields.Currency,
		fields.TransactionDate,
		fields.Confidence,
		qualityScore,
		extractionID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return store.ErrConflict
	}

	return nil
}
