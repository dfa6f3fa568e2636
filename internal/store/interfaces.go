package store

import (
	"context"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/shopspring/decimal"
)

// DocumentStore handles persistence of uploaded documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) (string, error)
	// GetDocument is scoped by owner; a document belonging to another user is
	// reported as not found.
	GetDocument(ctx context.Context, id, userID string) (*types.Document, error)
	ListDocuments(ctx context.Context, userID string, limit, offset int) ([]types.Document, int64, error)
	UpdateStatus(ctx context.Context, id string, status types.ProcessingStatus) error
	SetOCRConfidence(ctx context.Context, id string, confidence int) error
	DeleteDocument(ctx context.Context, id, userID string) error
}

// ExtractionStore handles the one-per-document extraction records. Both
// pipeline write paths go through it: the OCR stage inserts the row, the AI
// stage fills in the structured fields on the same row.
type ExtractionStore interface {
	CreateExtraction(ctx context.Context, ext *types.Extraction) (string, error)
	GetByDocumentID(ctx context.Context, documentID string) (*types.Extraction, error)
	UpdateStructuredFields(ctx context.Context, extractionID string, fields types.ExtractedFields, qualityScore int) error
}

// MatchStore persists immutable document/transaction match records.
type MatchStore interface {
	CreateMatches(ctx context.Context, matches []types.Match) error
	ListByDocumentID(ctx context.Context, documentID string) ([]types.Match, error)
	ListWithTransactions(ctx context.Context, documentID string) ([]types.MatchWithTransaction, error)
}

// ReconciliationStore manages the manual review queue.
type ReconciliationStore interface {
	CreateQueueItem(ctx context.Context, item *types.ReconciliationQueueItem) (string, error)
	GetQueueItem(ctx context.Context, id, userID string) (*types.ReconciliationQueueItem, error)
	// GetQueueItemDetail joins in the document and extraction snapshot,
	// scoped to the owner like GetQueueItem.
	GetQueueItemDetail(ctx context.Context, id, userID string) (*types.QueueItemSummary, error)
	GetByDocumentID(ctx context.Context, documentID string) (*types.ReconciliationQueueItem, error)
	ListQueueItems(ctx context.Context, userID string, statuses []types.QueueStatus) ([]types.QueueItemSummary, error)
	UpdateQueueItemStatus(ctx context.Context, id string, status types.QueueStatus, assignedTo *string) (*types.ReconciliationQueueItem, error)
}

// CandidateFilter narrows the ledger transactions considered by the matcher.
type CandidateFilter struct {
	DateFrom  time.Time
	DateTo    time.Time
	AmountMin *decimal.Decimal
	AmountMax *decimal.Decimal
	Limit     int
}

// TransactionStore provides read access to the ledger transactions documents
// are matched against.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	ListCandidates(ctx context.Context, userID string, filter CandidateFilter) ([]types.Transaction, error)
}
