package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func validPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(services.DocumentJobPayload{DocumentID: "doc-1", UserID: "user-1"})
	require.NoError(t, err)
	return raw
}

func TestDocumentJobHandler_PassesPayloadThrough(t *testing.T) {
	var got services.DocumentJobPayload
	handler := documentJobHandler("text-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
		got = p
		return nil
	})

	err := handler(context.Background(), validPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, "user-1", got.UserID)
}

func TestDocumentJobHandler_DuplicateDeliveryIsAcknowledged(t *testing.T) {
	calls := 0
	handler := documentJobHandler("text-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
		calls++
		return apperrors.PreconditionFailed("already_processed", "document already processed")
	})

	// A duplicate delivery is a no-op, not a failure the queue should retry.
	err := handler(context.Background(), validPayload(t))
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDocumentJobHandler_TerminalDocumentIsAcknowledged(t *testing.T) {
	handler := documentJobHandler("field-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
		return apperrors.InvalidStatusTransition("failed", "processing")
	})

	err := handler(context.Background(), validPayload(t))
	assert.NoError(t, err)
}

func TestDocumentJobHandler_RealFailuresStillRetry(t *testing.T) {
	handler := documentJobHandler("transaction-matching", func(ctx context.Context, p services.DocumentJobPayload) error {
		return apperrors.NewDatabaseError(errors.New("connection reset"))
	})

	err := handler(context.Background(), validPayload(t))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.DatabaseError, appErr.Type)
}

func TestDocumentJobHandler_RejectsMalformedPayload(t *testing.T) {
	handler := documentJobHandler("text-extraction", func(ctx context.Context, p services.DocumentJobPayload) error {
		t.Fatal("stage must not run on a malformed payload")
		return nil
	})

	err := handler(context.Background(), json.RawMessage(`{`))
	assert.Error(t, err)
}
