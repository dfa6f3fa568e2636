package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ReconciliationStore implements store.ReconciliationStore using PostgreSQL.
// A unique index on document_id enforces at most one queue item per document.
type ReconciliationStore struct {
	db DB
}

// NewReconciliationStore creates a new ReconciliationStore instance.
func NewReconciliationStore(db DB) *ReconciliationStore {
	return &ReconciliationStore{db: db}
}

// CreateQueueItem inserts a review queue item. Returns store.ErrConflict when
// the document is already queued.
func (s *ReconciliationStore) CreateQueueItem(ctx context.Context, item *types.ReconciliationQueueItem) (string, error) {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO reconciliation_queue (document_id, user_id, status, priority, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		item.DocumentID,
		item.UserID,
		item.Status,
		item.Priority,
		metadata,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrConflict
		}
		return "", err
	}

	return item.ID, nil
}

// GetQueueItem retrieves a queue item by ID, scoped to its owner.
func (s *ReconciliationStore) GetQueueItem(ctx context.Context, id, userID string) (*types.ReconciliationQueueItem, error) {
	query := `
		SELECT id, document_id, user_id, status, priority, assigned_to, metadata, created_at, updated_at
		FROM reconciliation_queue
		WHERE id = $1 AND user_id = $2`

	return s.scanQueueItem(s.db.QueryRow(ctx, query, id, userID))
}

// GetByDocumentID retrieves the queue item for a document, if any.
func (s *ReconciliationStore) GetByDocumentID(ctx context.Context, documentID string) (*types.ReconciliationQueueItem, error) {
	query := `
		SELECT id, document_id, user_id, status, priority, assigned_to, metadata, created_at, updated_at
		FROM reconciliation_queue
		WHERE document_id = $1`

	return s.scanQueueItem(s.db.QueryRow(ctx, query, documentID))
}

// queueSummaryColumns is the joined column list shared by the queue reads
// that carry the document and extraction snapshot.
const queueSummaryColumns = `q.id, q.document_id, q.user_id, q.status, q.priority, q.assigned_to, q.metadata,
	       q.created_at, q.updated_at,
	       d.id, d.user_id, d.file_name, d.file_path, d.thumbnail_path, d.file_size, d.mime_type,
	       d.status, d.ocr_confidence, d.created_at, d.updated_at,
	       e.id, e.document_id, e.raw_text, e.ocr_confidence, e.ocr_quality,
	       e.vendor, e.amount, e.currency, e.transaction_date,
	       e.extraction_confidence, e.quality_score, e.created_at, e.updated_at`

// GetQueueItemDetail retrieves a queue item by ID with its document and
// extraction snapshot joined in, scoped to its owner.
func (s *ReconciliationStore) GetQueueItemDetail(ctx context.Context, id, userID string) (*types.QueueItemSummary, error) {
	query := `
		SELECT ` + queueSummaryColumns + `
		FROM reconciliation_queue q
		JOIN documents d ON d.id = q.document_id
		LEFT JOIN extractions e ON e.document_id = q.document_id
		WHERE q.id = $1 AND q.user_id = $2`

	item, err := scanQueueSummary(s.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListQueueItems returns the user's queue items in the given statuses,
// highest priority first, newest first within a priority. Each row carries
// the document and extraction snapshot reviewers triage by.
func (s *ReconciliationStore) ListQueueItems(ctx context.Context, userID string, statuses []types.QueueStatus) ([]types.QueueItemSummary, error) {
	query := `
		SELECT ` + queueSummaryColumns + `
		FROM reconciliation_queue q
		JOIN documents d ON d.id = q.document_id
		LEFT JOIN extractions e ON e.document_id = q.document_id
		WHERE q.user_id = $1 AND q.status = ANY($2)
		ORDER BY
			CASE q.priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC,
			q.created_at DESC`

	statusStrings := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrings[i] = string(st)
	}

	rows, err := s.db.Query(ctx, query, userID, statusStrings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.QueueItemSummary
	for rows.Next() {
		item, err := scanQueueSummary(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// scanQueueSummary scans one joined queue row in queueSummaryColumns order.
func scanQueueSummary(row pgx.Row) (*types.QueueItemSummary, error) {
	var item types.QueueItemSummary
	var metadata []byte
	var ext nullableExtraction
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.UserID,
		&item.Status,
		&item.Priority,
		&item.AssignedTo,
		&metadata,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.Document.ID,
		&item.Document.UserID,
		&item.Document.FileName,
		&item.Document.FilePath,
		&item.Document.ThumbnailPath,
		&item.Document.FileSize,
		&item.Document.MimeType,
		&item.Document.Status,
		&item.Document.OCRConfidence,
		&item.Document.CreatedAt,
		&item.Document.UpdatedAt,
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
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}
	item.Extraction = ext.toExtraction()

	return &item, nil
}

// UpdateQueueItemStatus sets a queue item's status, optionally stamping the
// assignee. Status transition legality is the service's concern.
func (s *ReconciliationStore) UpdateQueueItemStatus(ctx context.Context, id string, status types.QueueStatus, assignedTo *string) (*types.ReconciliationQueueItem, error) {
	query := `
		UPDATE reconciliation_queue
		SET status = $1,
			assigned_to = COALESCE($2, assigned_to),
			updated_at = NOW()
		WHERE id = $3
		RETURNING id, document_id, user_id, status, priority, assigned_to, metadata, created_at, updated_at`

	return s.scanQueueItem(s.db.QueryRow(ctx, query, status, assignedTo, id))
}

func (s *ReconciliationStore) scanQueueItem(row pgx.Row) (*types.ReconciliationQueueItem, error) {
	item := &types.ReconciliationQueueItem{}
	var metadata []byte
	err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.UserID,
		&item.Status,
		&item.Priority,
		&item.AssignedTo,
		&metadata,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}

	return item, nil
}

// nullableExtraction scans the LEFT JOINed extraction columns, all of which
// may be null when no extraction exists yet.
type nullableExtraction struct {
	ID                   *string
	DocumentID           *string
	RawText              *string
	OCRConfidence        *int
	OCRQuality           *int
	Vendor               *string
	Amount               *decimal.Decimal
	Currency             *string
	TransactionDate      *string
	ExtractionConfidence *int
	QualityScore         *int
	CreatedAt            *time.Time
	UpdatedAt            *time.Time
}

func (n *nullableExtraction) toExtraction() *types.Extraction {
	if n.ID == nil {
		return nil
	}
	ext := &types.Extraction{
		ID:                   *n.ID,
		DocumentID:           *n.DocumentID,
		RawText:              *n.RawText,
		OCRConfidence:        *n.OCRConfidence,
		OCRQuality:           *n.OCRQuality,
		Vendor:               n.Vendor,
		Amount:               n.Amount,
		Currency:             n.Currency,
		TransactionDate:      n.TransactionDate,
		ExtractionConfidence: n.ExtractionConfidence,
		QualityScore:         n.QualityScore,
	}
	if n.CreatedAt != nil {
		ext.CreatedAt = *n.CreatedAt
	}
	if n.UpdatedAt != nil {
		ext.UpdatedAt = *n.UpdatedAt
	}
	return ext
}
