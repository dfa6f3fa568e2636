package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDocument() *types.Document {
	return &types.Document{
		UserID:   uuid.NewString(),
		FileName: "receipt.pdf",
		FilePath: "documents/user/receipt.pdf",
		FileSize: 20480,
		MimeType: "application/pdf",
		Status:   types.ProcessingStatusPending,
	}
}

func TestDocumentStore_CreateDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	doc := newTestDocument()
	now := time.Now()
	id := uuid.NewString()

	mock.ExpectQuery(`INSERT INTO documents`).
		WithArgs(doc.UserID, doc.FileName, doc.FilePath, doc.ThumbnailPath, doc.FileSize, doc.MimeType, doc.Status).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))

	gotID, err := s.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, id, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_GetDocument_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	id := uuid.NewString()
	userID := uuid.NewString()

	mock.ExpectQuery(`SELECT (.+) FROM documents`).
		WithArgs(id, userID).
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetDocument(context.Background(), id, userID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_GetDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	id := uuid.NewString()
	userID := uuid.NewString()
	now := time.Now()
	confidence := 85

	mock.ExpectQuery(`SELECT (.+) FROM documents`).
		WithArgs(id, userID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "file_name", "file_path", "thumbnail_path", "file_size", "mime_type",
			"status", "ocr_confidence", "created_at", "updated_at",
		}).AddRow(
			id, userID, "receipt.pdf", "documents/u/receipt.pdf", (*string)(nil), int64(20480),
			"application/pdf", types.ProcessingStatusCompleted, &confidence, now, now,
		))

	doc, err := s.GetDocument(context.Background(), id, userID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessingStatusCompleted, doc.Status)
	require.NotNil(t, doc.OCRConfidence)
	assert.Equal(t, 85, *doc.OCRConfidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	id := uuid.NewString()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE documents`).
			WithArgs(types.ProcessingStatusProcessing, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := s.UpdateStatus(context.Background(), id, types.ProcessingStatusProcessing)
		assert.NoError(t, err)
	})

	t.Run("missing row", func(t *testing.T) {
		mock.ExpectExec(`UPDATE documents`).
			WithArgs(types.ProcessingStatusCompleted, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.UpdateStatus(context.Background(), id, types.ProcessingStatusCompleted)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_DeleteDocument(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	id := uuid.NewString()
	userID := uuid.NewString()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM documents`).
			WithArgs(id, userID).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		assert.NoError(t, s.DeleteDocument(context.Background(), id, userID))
	})

	t.Run("wrong owner reads as not found", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM documents`).
			WithArgs(id, userID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := s.DeleteDocument(context.Background(), id, userID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_ListDocuments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewDocumentStore(mock)
	userID := uuid.NewString()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	mock.ExpectQuery(`SELECT (.+) FROM documents`).
		WithArgs(userID, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "file_name", "file_path", "thumbnail_path", "file_size", "mime_type",
			"status", "ocr_confidence", "created_at", "updated_at",
		}).AddRow(
			uuid.NewString(), userID, "a.pdf", "documents/u/a.pdf", (*string)(nil), int64(100),
			"application/pdf", types.ProcessingStatusPending, (*int)(nil), now, now,
		).AddRow(
			uuid.NewString(), userID, "b.jpg", "documents/u/b.jpg", (*string)(nil), int64(200),
			"image/jpeg", types.ProcessingStatusCompleted, (*int)(nil), now, now,
		))

	docs, total, err := s.ListDocuments(context.Background(), userID, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, docs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
