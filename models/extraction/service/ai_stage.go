package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/gemini"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
)

// minTextLength is the shortest raw text worth sending to the model.
const minTextLength = 10

// FieldExtractor turns raw document text into structured receipt fields.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, documentText string) (*gemini.ExtractedData, error)
}

// AIStageResult reports the outcome of the field-extraction stage.
type AIStageResult struct {
	Fields  types.ExtractedFields `json:"fields"`
	Quality int                   `json:"quality"`
	Valid   bool                  `json:"valid"`
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ExtractData runs the field-extraction stage. The structured fields are
// written onto the existing extraction row exactly once; the conditional
// update in the store closes the race between concurrent duplicate
// deliveries.
func (s *ExtractionService) ExtractData(ctx context.Context, documentID, userID string) (*AIStageResult, error) {
	log := logger.GetLogger()

	doc, err := s.documents.GetDocument(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.DocumentNotFound(documentID)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	ext, err := s.extractions.GetByDocumentID(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Extraction", documentID)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	if ext.HasStructuredFields() {
		return nil, apperrors.PreconditionFailed("already_extracted", "data already extracted for this document")
	}
	if len(strings.TrimSpace(ext.RawText)) < minTextLength {
		return nil, apperrors.PreconditionFailed("text_too_short", "OCR text too short or empty")
	}

	// Failed is terminal, so a document whose text extraction was judged
	// unusable never reaches the model.
	if doc.Status != types.ProcessingStatusProcessing && !doc.Status.CanTransition(types.ProcessingStatusProcessing) {
		return nil, apperrors.InvalidStatusTransition(string(doc.Status), string(types.ProcessingStatusProcessing))
	}

	data, err := s.extractor.ExtractFields(ctx, ext.RawText)
	if err != nil {
		s.markDocumentFailed(ctx, documentID)
		return nil, apperrors.NewCollaboratorError("AI extraction", err)
	}

	fields := normalizeFields(data)
	if !validateFields(&fields) {
		s.markDocumentFailed(ctx, documentID)
		return nil, apperrors.New(apperrors.CollaboratorError,
			"AI extraction produced unusable data",
			"extracted data failed validation checks")
	}

	quality := calculateExtractionQuality(&fields)
	valid := quality >= minExtractionQuality

	if err := s.extractions.UpdateStructuredFields(ctx, ext.ID, fields, quality); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.PreconditionFailed("already_extracted", "data already extracted for this document")
		}
		s.markDocumentFailed(ctx, documentID)
		return nil, apperrors.NewDatabaseError(err)
	}

	// The matching stage owns the transition to completed.
	status := types.ProcessingStatusProcessing
	if !valid {
		status = types.ProcessingStatusFailed
	}
	if err := s.documents.UpdateStatus(ctx, documentID, status); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	if valid {
		if _, err := s.jobs.Enqueue(services.JobTypeTransactionMatching, services.DocumentJobPayload{
			DocumentID: documentID,
			UserID:     userID,
		}, services.EnqueueOptions{}); err != nil {
			log.Errorw("Failed to enqueue matching job", "documentId", documentID, "error", err)
		}
	}

	log.Infow("Field extraction finished",
		"documentId", documentID,
		"fieldCount", fields.FieldCount(),
		"confidence", fields.Confidence,
		"quality", quality,
		"valid", valid)

	return &AIStageResult{Fields: fields, Quality: quality, Valid: valid}, nil
}

func (s *ExtractionService) markDocumentFailed(ctx context.Context, documentID string) {
	if err := s.documents.UpdateStatus(ctx, documentID, types.ProcessingStatusFailed); err != nil {
		logger.GetLogger().Errorw("Failed to mark document failed", "documentId", documentID, "error", err)
	}
}

// minExtractionQuality is the floor below which structured fields are not
// worth matching against the ledger.
const minExtractionQuality = 50

// normalizeFields cleans raw model output: confidence clamped to [0,100],
// empty strings treated as absent, dates coerced to YYYY-MM-DD or dropped.
func normalizeFields(data *gemini.ExtractedData) types.ExtractedFields {
	fields := types.ExtractedFields{
		Amount:     data.TotalAmount,
		Confidence: data.Confidence,
	}
	if fields.Confidence < 0 {
		fields.Confidence = 0
	} else if fields.Confidence > 100 {
		fields.Confidence = 100
	}

	if data.VendorName != nil {
		if v := strings.TrimSpace(*data.VendorName); v != "" {
			fields.Vendor = &v
		}
	}
	if data.Currency != nil {
		if c := strings.ToUpper(strings.TrimSpace(*data.Currency)); c != "" {
			fields.Currency = &c
		}
	}
	if data.TransactionDate != nil {
		if d := normalizeDate(strings.TrimSpace(*data.TransactionDate)); d != "" {
			fields.TransactionDate = &d
		}
	}
	return fields
}

// normalizeDate returns the date in YYYY-MM-DD or "" if unparseable.
func normalizeDate(raw string) string {
	if raw == "" {
		return ""
	}
	if isoDateRe.MatchString(raw) {
		if _, err := time.Parse("2006-01-02", raw); err == nil {
			return raw
		}
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "02/01/2006", "01/02/2006", "2 Jan 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// validateFields checks the minimum usefulness bar: at least a vendor or an
// amount, a currency whenever an amount is present, and a confidence that is
// not pure guesswork.
func validateFields(f *types.ExtractedFields) bool {
	if f.Vendor == nil && f.Amount == nil {
		return false
	}
	if f.Confidence < 30 {
		return false
	}
	if f.Amount != nil && f.Currency == nil {
		return false
	}
	return true
}

// calculateExtractionQuality combines model confidence with field
// completeness: each present field is worth 5 bonus points, capped at 100.
func calculateExtractionQuality(f *types.ExtractedFields) int {
	score := f.Confidence + f.FieldCount()*5
	if score > 100 {
		score = 100
	}
	return score
}
