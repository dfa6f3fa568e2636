package service

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/gemini"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFieldExtractor struct{ mock.Mock }

func (m *MockFieldExtractor) ExtractFields(ctx context.Context, documentText string) (*gemini.ExtractedData, error) {
	args := m.Called(ctx, documentText)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.ExtractedData), args.Error(1)
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func rawExtraction() *types.Extraction {
	return &types.Extraction{
		ID:            "ext-1",
		DocumentID:    "doc-1",
		RawText:       goodReceiptText,
		OCRConfidence: 92,
		OCRQuality:    88,
	}
}

func TestExtractData_Success(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(rawExtraction(), nil)
	f.extractor.On("ExtractFields", mock.Anything, goodReceiptText).Return(&gemini.ExtractedData{
		VendorName:      strPtr("Coffee House"),
		TotalAmount:     decPtr("4.50"),
		Currency:        strPtr("eur"),
		TransactionDate: strPtr("2024-03-10"),
		Confidence:      85,
	}, nil)
	f.extractions.On("UpdateStructuredFields", mock.Anything, "ext-1", mock.MatchedBy(func(fields types.ExtractedFields) bool {
		return *fields.Vendor == "Coffee House" &&
			fields.Amount.Equal(decimal.RequireFromString("4.50")) &&
			*fields.Currency == "EUR" &&
			*fields.TransactionDate == "2024-03-10" &&
			fields.Confidence == 85
	}), 100).Return(nil) // 85 confidence + 4 fields * 5 = 105, capped at 100
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.jobs.On("Enqueue", services.JobTypeTransactionMatching, services.DocumentJobPayload{
		DocumentID: "doc-1",
		UserID:     "user-1",
	}, services.EnqueueOptions{}).Return("job-3", nil)

	result, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 100, result.Quality)

	f.extractions.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
}

func TestExtractData_NoExtractionYet(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.NotFoundError, appErr.Type)
	f.extractor.AssertNotCalled(t, "ExtractFields", mock.Anything, mock.Anything)
}

func TestExtractData_AlreadyExtracted(t *testing.T) {
	f := newFixture()

	ext := rawExtraction()
	confidence := 85
	ext.ExtractionConfidence = &confidence

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(ext, nil)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.PreconditionError, appErr.Type)
	f.extractor.AssertNotCalled(t, "ExtractFields", mock.Anything, mock.Anything)
}

func TestExtractData_TextTooShort(t *testing.T) {
	f := newFixture()

	ext := rawExtraction()
	ext.RawText = "x4.50"

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(ext, nil)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.PreconditionError, appErr.Type)
	// Precondition failures must not mutate document state.
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractData_FailedDocumentIsTerminal(t *testing.T) {
	f := newFixture()

	doc := pendingDocument()
	doc.Status = types.ProcessingStatusFailed

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(doc, nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(rawExtraction(), nil)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.InvalidStatusTransitionError, appErr.Type)
	f.extractor.AssertNotCalled(t, "ExtractFields", mock.Anything, mock.Anything)
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractData_ModelFailureMarksDocumentFailed(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(rawExtraction(), nil)
	f.extractor.On("ExtractFields", mock.Anything, mock.Anything).Return(nil, errors.New("model timeout"))
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed).Return(nil)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CollaboratorError, appErr.Type)
	f.documents.AssertCalled(t, "UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed)
	f.extractions.AssertNotCalled(t, "UpdateStructuredFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractData_UnusableFieldsRejected(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(rawExtraction(), nil)
	// Neither vendor nor amount found.
	f.extractor.On("ExtractFields", mock.Anything, mock.Anything).Return(&gemini.ExtractedData{Confidence: 65}, nil)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed).Return(nil)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	require.Error(t, err)
	f.extractions.AssertNotCalled(t, "UpdateStructuredFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExtractData_ConcurrentUpdateLosesGracefully(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(rawExtraction(), nil)
	f.extractor.On("ExtractFields", mock.Anything, mock.Anything).Return(&gemini.ExtractedData{
		VendorName: strPtr("Coffee House"),
		Confidence: 85,
	}, nil)
	f.extractions.On("UpdateStructuredFields", mock.Anything, "ext-1", mock.Anything, mock.Anything).
		Return(store.ErrConflict)

	_, err := f.svc.ExtractData(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.PreconditionError, appErr.Type)
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed)
}

func TestNormalizeFields(t *testing.T) {
	data := &gemini.ExtractedData{
		VendorName:      strPtr("  Blue Bottle  "),
		TotalAmount:     decPtr("5.75"),
		Currency:        strPtr("usd"),
		TransactionDate: strPtr("10/03/2024"),
		Confidence:      130,
	}
	fields := normalizeFields(data)
	assert.Equal(t, "Blue Bottle", *fields.Vendor)
	assert.Equal(t, "USD", *fields.Currency)
	assert.Equal(t, 100, fields.Confidence)
	require.NotNil(t, fields.TransactionDate)
	assert.Equal(t, "2024-03-10", *fields.TransactionDate)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"2024-03-10", "2024-03-10"},
		{"2024-03-10T14:22:01Z", "2024-03-10"},
		{"Mar 10, 2024", "2024-03-10"},
		{"not a date", ""},
		{"2024-13-45", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeDate(tt.in), "input %q", tt.in)
	}
}

func TestValidateFields(t *testing.T) {
	amount := decimal.RequireFromString("4.50")
	tests := []struct {
		name   string
		fields types.ExtractedFields
		valid  bool
	}{
		{"vendor only", types.ExtractedFields{Vendor: strPtr("Acme"), Confidence: 60}, true},
		{"amount with currency", types.ExtractedFields{Amount: &amount, Currency: strPtr("EUR"), Confidence: 60}, true},
		{"amount without currency", types.ExtractedFields{Amount: &amount, Confidence: 60}, false},
		{"nothing found", types.ExtractedFields{Confidence: 90}, false},
		{"confidence floor", types.ExtractedFields{Vendor: strPtr("Acme"), Confidence: 29}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, validateFields(&tt.fields))
		})
	}
}
