package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/ocrclient"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

type MockDocumentStore struct{ mock.Mock }

func (m *MockDocumentStore) CreateDocument(ctx context.Context, doc *types.Document) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}
func (m *MockDocumentStore) GetDocument(ctx context.Context, id, userID string) (*types.Document, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Document), args.Error(1)
}
func (m *MockDocumentStore) ListDocuments(ctx context.Context, userID string, limit, offset int) ([]types.Document, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]types.Document), args.Get(1).(int64), args.Error(2)
}
func (m *MockDocumentStore) UpdateStatus(ctx context.Context, id string, status types.ProcessingStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
func (m *MockDocumentStore) SetOCRConfidence(ctx context.Context, id string, confidence int) error {
	args := m.Called(ctx, id, confidence)
	return args.Error(0)
}
func (m *MockDocumentStore) DeleteDocument(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

type MockExtractionStore struct{ mock.Mock }

func (m *MockExtractionStore) CreateExtraction(ctx context.Context, ext *types.Extraction) (string, error) {
	args := m.Called(ctx, ext)
	if id := args.String(0); id != "" {
		ext.ID = id
	}
	return args.String(0), args.Error(1)
}
func (m *MockExtractionStore) GetByDocumentID(ctx context.Context, documentID string) (*types.Extraction, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Extraction), args.Error(1)
}
func (m *MockExtractionStore) UpdateStructuredFields(ctx context.Context, extractionID string, fields types.ExtractedFields, qualityScore int) error {
	args := m.Called(ctx, extractionID, fields, qualityScore)
	return args.Error(0)
}

type MockBinaryOpener struct{ mock.Mock }

func (m *MockBinaryOpener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

type MockOCREngine struct{ mock.Mock }

func (m *MockOCREngine) ExtractText(ctx context.Context, fileName, mimeType string, file io.Reader) (*ocrclient.Result, error) {
	args := m.Called(ctx, fileName, mimeType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ocrclient.Result), args.Error(1)
}

type MockJobEnqueuer struct{ mock.Mock }

func (m *MockJobEnqueuer) Enqueue(jobType string, payload interface{}, opts services.EnqueueOptions) (string, error) {
	args := m.Called(jobType, payload, opts)
	return args.String(0), args.Error(1)
}

type ocrFixture struct {
	documents   *MockDocumentStore
	extractions *MockExtractionStore
	storage     *MockBinaryOpener
	ocr         *MockOCREngine
	extractor   *MockFieldExtractor
	jobs        *MockJobEnqueuer
	svc         *ExtractionService
}

func newFixture() *ocrFixture {
	f := &ocrFixture{
		documents:   new(MockDocumentStore),
		extractions: new(MockExtractionStore),
		storage:     new(MockBinaryOpener),
		ocr:         new(MockOCREngine),
		extractor:   new(MockFieldExtractor),
		jobs:        new(MockJobEnqueuer),
	}
	f.svc = NewExtractionService(f.documents, f.extractions, f.storage, f.ocr, f.extractor, f.jobs, 60)
	return f
}

func pendingDocument() *types.Document {
	return &types.Document{
		ID:       "doc-1",
		UserID:   "user-1",
		FileName: "receipt.jpg",
		FilePath: "documents/user-1/1_receipt.jpg",
		MimeType: "image/jpeg",
		Status:   types.ProcessingStatusPending,
	}
}

const goodReceiptText = "COFFEE HOUSE\nMain Street 12\nCappuccino large 4.50\nTotal amount 4.50 EUR\nThank you for your visit"

func TestProcessOCR_Success(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.storage.On("Open", mock.Anything, "documents/user-1/1_receipt.jpg").
		Return(io.NopCloser(strings.NewReader("binary")), nil)
	f.ocr.On("ExtractText", mock.Anything, "receipt.jpg", "image/jpeg").
		Return(&ocrclient.Result{Text: goodReceiptText, Confidence: 92}, nil)
	f.extractions.On("CreateExtraction", mock.Anything, mock.MatchedBy(func(ext *types.Extraction) bool {
		return ext.DocumentID == "doc-1" && ext.OCRConfidence == 92 && ext.RawText != ""
	})).Return("ext-1", nil)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusCompleted).Return(nil)
	f.documents.On("SetOCRConfidence", mock.Anything, "doc-1", 92).Return(nil)
	f.jobs.On("Enqueue", services.JobTypeFieldExtraction, services.DocumentJobPayload{
		DocumentID: "doc-1",
		UserID:     "user-1",
	}, services.EnqueueOptions{}).Return("job-2", nil)

	result, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.GreaterOrEqual(t, result.Quality, 60)
	assert.Equal(t, "ext-1", result.Extraction.ID)

	f.documents.AssertExpectations(t)
	f.extractions.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
}

func TestProcessOCR_AlreadyProcessed(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").
		Return(&types.Extraction{ID: "ext-1", DocumentID: "doc-1"}, nil)

	_, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.PreconditionError, appErr.Type)
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessOCR_EngineFailureMarksDocumentFailed(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.storage.On("Open", mock.Anything, mock.Anything).Return(io.NopCloser(strings.NewReader("binary")), nil)
	f.ocr.On("ExtractText", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("engine unavailable"))
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed).Return(nil)
	f.documents.On("SetOCRConfidence", mock.Anything, "doc-1", 0).Return(nil)

	_, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CollaboratorError, appErr.Type)
	f.documents.AssertCalled(t, "UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed)
	f.documents.AssertCalled(t, "SetOCRConfidence", mock.Anything, "doc-1", 0)
	f.extractions.AssertNotCalled(t, "CreateExtraction", mock.Anything, mock.Anything)
}

func TestProcessOCR_LowQualityFailsWithoutEnqueue(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.storage.On("Open", mock.Anything, mock.Anything).Return(io.NopCloser(strings.NewReader("binary")), nil)
	// Short noisy text at confidence 40: 40*0.7 = 28, well under the floor.
	f.ocr.On("ExtractText", mock.Anything, mock.Anything, mock.Anything).
		Return(&ocrclient.Result{Text: "a1 b2", Confidence: 40}, nil)
	f.extractions.On("CreateExtraction", mock.Anything, mock.Anything).Return("ext-1", nil)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed).Return(nil)
	f.documents.On("SetOCRConfidence", mock.Anything, "doc-1", 40).Return(nil)

	result, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	f.jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessOCR_ConcurrentInsertLosesGracefully(t *testing.T) {
	f := newFixture()

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(pendingDocument(), nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.storage.On("Open", mock.Anything, mock.Anything).Return(io.NopCloser(strings.NewReader("binary")), nil)
	f.ocr.On("ExtractText", mock.Anything, mock.Anything, mock.Anything).
		Return(&ocrclient.Result{Text: goodReceiptText, Confidence: 92}, nil)
	f.extractions.On("CreateExtraction", mock.Anything, mock.Anything).Return("", store.ErrConflict)

	_, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.PreconditionError, appErr.Type)
	// The winning delivery owns the terminal status; the loser must not touch it.
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusFailed)
}

func TestProcessOCR_FailedDocumentIsTerminal(t *testing.T) {
	f := newFixture()

	doc := pendingDocument()
	doc.Status = types.ProcessingStatusFailed

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(doc, nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)

	_, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.InvalidStatusTransitionError, appErr.Type)
	f.documents.AssertNotCalled(t, "UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing)
	f.ocr.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessOCR_EmailBypassesEngine(t *testing.T) {
	f := newFixture()

	doc := pendingDocument()
	doc.FileName = "receipt.eml"
	doc.MimeType = "message/rfc822"

	eml := "From: Blue Bottle Coffee <orders@bluebottle.example>\r\n" +
		"Subject: Your receipt for order 1042\r\n" +
		"Date: Mon, 10 Mar 2024 09:30:00 +0000\r\n" +
		"\r\n" +
		"Thank you for your order.\r\nTotal charged: 5.75 USD\r\n"

	f.documents.On("GetDocument", mock.Anything, "doc-1", "user-1").Return(doc, nil)
	f.extractions.On("GetByDocumentID", mock.Anything, "doc-1").Return(nil, store.ErrNotFound)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusProcessing).Return(nil)
	f.storage.On("Open", mock.Anything, mock.Anything).Return(io.NopCloser(strings.NewReader(eml)), nil)
	f.extractions.On("CreateExtraction", mock.Anything, mock.MatchedBy(func(ext *types.Extraction) bool {
		return ext.OCRConfidence == 100 &&
			strings.Contains(ext.RawText, "Subject: Your receipt for order 1042") &&
			strings.Contains(ext.RawText, "Total charged: 5.75 USD")
	})).Return("ext-1", nil)
	f.documents.On("UpdateStatus", mock.Anything, "doc-1", types.ProcessingStatusCompleted).Return(nil)
	f.documents.On("SetOCRConfidence", mock.Anything, "doc-1", 100).Return(nil)
	f.jobs.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("job-2", nil)

	result, err := f.svc.ProcessOCR(context.Background(), "doc-1", "user-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	f.ocr.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything, mock.Anything)
}

func TestCleanOCRText(t *testing.T) {
	in := "  COFFEE   HOUSE  \r\nMain Street 12\n\n\n\nTotal   4.50\n"
	assert.Equal(t, "COFFEE HOUSE\nMain Street 12\n\nTotal 4.50", cleanOCRText(in))
}

func TestCalculateOCRQuality(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		confidence int
		expected   int
	}{
		{"empty text", "", 95, 0},
		{"short text penalized", strings.Repeat("ab ", 10), 80, 56},
		{"mostly digits penalized", strings.Repeat("1234567890", 6), 80, 64},
		{"readable words bonus capped", goodReceiptText, 95, 100},
		{"plain mid confidence", strings.Repeat("sum ", 20), 70, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, calculateOCRQuality(tt.text, tt.confidence))
		})
	}
}
