// Package service implements the two text-processing pipeline stages: optical
// recognition of the stored binary and AI field extraction from the
// recognized text.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/pkg/ocrclient"
	"github.com/ReceiptRadar/receipt-radar-backend/services"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
)

// OCREngine recognizes text in a document binary.
type OCREngine interface {
	ExtractText(ctx context.Context, fileName, mimeType string, file io.Reader) (*ocrclient.Result, error)
}

// BinaryOpener reads back a stored document binary.
type BinaryOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// JobEnqueuer is the slice of the job queue the pipeline stages need.
type JobEnqueuer interface {
	Enqueue(jobType string, payload interface{}, opts services.EnqueueOptions) (string, error)
}

// ExtractionService runs the text-extraction and field-extraction stages.
type ExtractionService struct {
	documents   store.DocumentStore
	extractions store.ExtractionStore
	fileStorage BinaryOpener
	ocr         OCREngine
	extractor   FieldExtractor
	jobs        JobEnqueuer
	minQuality  int
}

// NewExtractionService creates a new extraction service.
func NewExtractionService(
	documents store.DocumentStore,
	extractions store.ExtractionStore,
	fileStorage BinaryOpener,
	ocr OCREngine,
	extractor FieldExtractor,
	jobs JobEnqueuer,
	minQuality int,
) *ExtractionService {
	return &ExtractionService{
		documents:   documents,
		extractions: extractions,
		fileStorage: fileStorage,
		ocr:         ocr,
		extractor:   extractor,
		jobs:        jobs,
		minQuality:  minQuality,
	}
}

// OCRStageResult reports the outcome of the text-extraction stage.
type OCRStageResult struct {
	Extraction *types.Extraction `json:"extraction"`
	Quality    int               `json:"quality"`
	Valid      bool              `json:"valid"`
}

// ProcessOCR runs the text-extraction stage for a document. At-least-once job
// delivery means this can be invoked twice for the same document; the
// existence check plus the unique index on extractions keep the 1:1 invariant.
func (s *ExtractionService) ProcessOCR(ctx context.Context, documentID, userID string) (*OCRStageResult, error) {
	log := logger.GetLogger()

	doc, err := s.documents.GetDocument(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.DocumentNotFound(documentID)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	if _, err := s.extractions.GetByDocumentID(ctx, documentID); err == nil {
		return nil, apperrors.PreconditionFailed("already_processed", "document already processed")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewDatabaseError(err)
	}

	// Failed is terminal. A document already in processing is an interrupted
	// or concurrent delivery and may be finished.
	if doc.Status != types.ProcessingStatusProcessing && !doc.Status.CanTransition(types.ProcessingStatusProcessing) {
		return nil, apperrors.InvalidStatusTransition(string(doc.Status), string(types.ProcessingStatusProcessing))
	}

	// Concurrent observers must see in-flight state before external calls.
	if err := s.documents.UpdateStatus(ctx, documentID, types.ProcessingStatusProcessing); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	result, err := s.recognize(ctx, doc)
	if err != nil {
		s.markOCRFailed(ctx, documentID)
		return nil, apperrors.NewCollaboratorError("OCR", err)
	}

	cleaned := cleanOCRText(result.Text)
	quality := calculateOCRQuality(cleaned, result.Confidence)
	valid := quality >= s.minQuality

	ext := &types.Extraction{
		DocumentID:    documentID,
		RawText:       cleaned,
		OCRConfidence: result.Confidence,
		OCRQuality:    quality,
	}
	if _, err := s.extractions.CreateExtraction(ctx, ext); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent duplicate delivery won the insert race.
			return nil, apperrors.PreconditionFailed("already_processed", "document already processed")
		}
		s.markOCRFailed(ctx, documentID)
		return nil, apperrors.NewDatabaseError(err)
	}

	status := types.ProcessingStatusCompleted
	if !valid {
		status = types.ProcessingStatusFailed
	}
	if err := s.documents.UpdateStatus(ctx, documentID, status); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if err := s.documents.SetOCRConfidence(ctx, documentID, result.Confidence); err != nil {
		log.Warnw("Failed to store OCR confidence", "documentId", documentID, "error", err)
	}

	if valid {
		if _, err := s.jobs.Enqueue(services.JobTypeFieldExtraction, services.DocumentJobPayload{
			DocumentID: documentID,
			UserID:     userID,
		}, services.EnqueueOptions{}); err != nil {
			log.Errorw("Failed to enqueue field extraction job", "documentId", documentID, "error", err)
		}
	}

	log.Infow("Text extraction finished",
		"documentId", documentID,
		"confidence", result.Confidence,
		"quality", quality,
		"valid", valid)

	return &OCRStageResult{Extraction: ext, Quality: quality, Valid: valid}, nil
}

// recognize routes to the right extraction method by document kind. Email
// containers are plain text and never touch the OCR engine.
func (s *ExtractionService) recognize(ctx context.Context, doc *types.Document) (*ocrclient.Result, error) {
	file, err := s.fileStorage.Open(ctx, doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored binary: %w", err)
	}
	defer file.Close()

	if doc.MimeType == "message/rfc822" {
		return extractTextFromEmail(file)
	}
	return s.ocr.ExtractText(ctx, doc.FileName, doc.MimeType, file)
}

func (s *ExtractionService) markOCRFailed(ctx context.Context, documentID string) {
	log := logger.GetLogger()
	if err := s.documents.UpdateStatus(ctx, documentID, types.ProcessingStatusFailed); err != nil {
		log.Errorw("Failed to mark document failed", "documentId", documentID, "error", err)
	}
	if err := s.documents.SetOCRConfidence(ctx, documentID, 0); err != nil {
		log.Errorw("Failed to zero OCR confidence", "documentId", documentID, "error", err)
	}
}

// cleanOCRText normalizes recognized text: line breaks unified, runs of
// spaces collapsed, at most one blank line kept, every line trimmed.
func cleanOCRText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimSpace(collapseSpaces(line))
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if prevSpace {
				continue
			}
			prevSpace = true
			b.WriteRune(' ')
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// calculateOCRQuality derives a 0-100 quality score from the engine
// confidence and simple text heuristics: very short text and mostly-numeric
// text are penalized, a reasonable number of readable words earns a bonus.
func calculateOCRQuality(text string, confidence int) int {
	if text == "" {
		return 0
	}

	quality := float64(confidence)

	if len(text) < 50 {
		quality *= 0.7
	}

	digits := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if float64(digits)/float64(len(text)) > 0.8 {
		quality *= 0.8
	}

	longWords := 0
	for _, w := range strings.Fields(text) {
		if len(w) >= 4 {
			longWords++
		}
	}
	if longWords > 5 {
		quality = math.Min(100, quality*1.1)
	}

	return int(math.Round(math.Min(100, math.Max(0, quality))))
}
