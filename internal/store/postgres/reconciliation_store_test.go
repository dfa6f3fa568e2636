package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestReconciliationStore_CreateQueueItem(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewReconciliationStore(mock)
	item := &types.ReconciliationQueueItem{
		DocumentID: uuid.NewString(),
		UserID:     uuid.NewString(),
		Status:     types.QueueStatusPendingReview,
		Priority:   types.QueuePriorityHigh,
		Metadata:   map[string]interface{}{"candidate_count": 0},
	}
	now := time.Now()
	id := uuid.NewString()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO reconciliation_queue`).
			WithArgs(item.DocumentID, item.UserID, item.Status, item.Priority, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))

		gotID, err := s.CreateQueueItem(context.Background(), item)
		require.NoError(t, err)
		assert.Equal(t, id, gotID)
	})

	t.Run("document already queued", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO reconciliation_queue`).
			WithArgs(item.DocumentID, item.UserID, item.Status, item.Priority, pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})

		_, err := s.CreateQueueItem(context.Background(), item)
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_UpdateQueueItemStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewReconciliationStore(mock)
	id := uuid.NewString()
	documentID := uuid.NewString()
	userID := uuid.NewString()
	reviewer := uuid.NewString()
	now := time.Now()

	mock.ExpectQuery(`UPDATE reconciliation_queue`).
		WithArgs(types.QueueStatusInProgress, &reviewer, id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "document_id", "user_id", "status", "priority", "assigned_to", "metadata",
			"created_at", "updated_at",
		}).AddRow(
			id, documentID, userID, types.QueueStatusInProgress, types.QueuePriorityNormal,
			&reviewer, []byte(`{"candidate_count":3,"best_score":72}`), now, now,
		))

	item, err := s.UpdateQueueItemStatus(context.Background(), id, types.QueueStatusInProgress, &reviewer)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusInProgress, item.Status)
	require.NotNil(t, item.AssignedTo)
	assert.Equal(t, reviewer, *item.AssignedTo)
	assert.Equal(t, float64(3), item.Metadata["candidate_count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_GetQueueItemDetail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewReconciliationStore(mock)
	id := uuid.NewString()
	documentID := uuid.NewString()
	userID := uuid.NewString()
	extractionID := uuid.NewString()
	now := time.Now()
	vendor := "Coffee House"
	confidence := 85

	columns := []string{
		"id", "document_id", "user_id", "status", "priority", "assigned_to", "metadata",
		"created_at", "updated_at",
		"d_id", "d_user_id", "file_name", "file_path", "thumbnail_path", "file_size", "mime_type",
		"d_status", "d_ocr_confidence", "d_created_at", "d_updated_at",
		"e_id", "e_document_id", "raw_text", "e_ocr_confidence", "ocr_quality",
		"vendor", "amount", "currency", "transaction_date",
		"extraction_confidence", "quality_score", "e_created_at", "e_updated_at",
	}

	t.Run("joins document and extraction", func(t *testing.T) {
		ocrConfidence := 92
		quality := 88
		mock.ExpectQuery(`SELECT (.+) FROM reconciliation_queue q\s+JOIN documents d`).
			WithArgs(id, userID).
			WillReturnRows(pgxmock.NewRows(columns).AddRow(
				id, documentID, userID, types.QueueStatusPendingReview, types.QueuePriorityNormal,
				nil, []byte(`{"candidate_count":2,"best_score":72}`), now, now,
				documentID, userID, "receipt.jpg", "documents/u/receipt.jpg", nil, int64(2048), "image/jpeg",
				types.ProcessingStatusCompleted, &ocrConfidence, now, now,
				&extractionID, &documentID, strPtr("Coffee House 4.50 EUR"), &ocrConfidence, &quality,
				&vendor, nil, strPtr("EUR"), strPtr("2024-03-10"),
				&confidence, &quality, &now, &now,
			))

		item, err := s.GetQueueItemDetail(context.Background(), id, userID)
		require.NoError(t, err)
		assert.Equal(t, id, item.ID)
		assert.Equal(t, documentID, item.Document.ID)
		assert.Equal(t, "receipt.jpg", item.Document.FileName)
		require.NotNil(t, item.Extraction)
		assert.Equal(t, "Coffee House", *item.Extraction.Vendor)
		assert.Equal(t, float64(2), item.Metadata["candidate_count"])
	})

	t.Run("missing or foreign item is not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM reconciliation_queue q\s+JOIN documents d`).
			WithArgs(id, userID).
			WillReturnRows(pgxmock.NewRows(columns))

		_, err := s.GetQueueItemDetail(context.Background(), id, userID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationStore_GetQueueItem_ScopedToOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewReconciliationStore(mock)
	id := uuid.NewString()
	otherUser := uuid.NewString()

	mock.ExpectQuery(`SELECT (.+) FROM reconciliation_queue`).
		WithArgs(id, otherUser).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "document_id", "user_id", "status", "priority", "assigned_to", "metadata",
			"created_at", "updated_at",
		}))

	_, err = s.GetQueueItem(context.Background(), id, otherUser)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
