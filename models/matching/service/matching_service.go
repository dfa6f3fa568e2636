package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/config"
	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/shopspring/decimal"
)

// MatchingService runs the matching stage for extracted documents.
type MatchingService struct {
	documents      store.DocumentStore
	extractions    store.ExtractionStore
	matches        store.MatchStore
	transactions   store.TransactionStore
	reconciliation store.ReconciliationStore
	cfg            config.MatchingConfig
}

// NewMatchingService creates a new matching service.
func NewMatchingService(
	documents store.DocumentStore,
	extractions store.ExtractionStore,
	matches store.MatchStore,
	transactions store.TransactionStore,
	reconciliation store.ReconciliationStore,
	cfg config.MatchingConfig,
) *MatchingService {
	return &MatchingService{
		documents:      documents,
		extractions:    extractions,
		matches:        matches,
		transactions:   transactions,
		reconciliation: reconciliation,
		cfg:            cfg,
	}
}

type scoredCandidate struct {
	txn       types.Transaction
	scores    types.FactorScores
	composite int
	reasons   []string
}

// MatchTransactions scores the document's extracted fields against the
// user's ledger and either records an automatic match or parks the document
// in the reconciliation queue.
func (s *MatchingService) MatchTransactions(ctx context.Context, documentID, userID string) (*types.MatchResult, error) {
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
	if !ext.HasStructuredFields() {
		return nil, apperrors.PreconditionFailed("not_extracted", "structured fields not extracted yet")
	}

	existing, err := s.matches.ListByDocumentID(ctx, documentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if len(existing) > 0 {
		return nil, apperrors.PreconditionFailed("already_matched", "document already matched")
	}

	// Matching ends in completed, which only a processing document may reach.
	if !doc.Status.CanTransition(types.ProcessingStatusCompleted) {
		return nil, apperrors.InvalidStatusTransition(string(doc.Status), string(types.ProcessingStatusCompleted))
	}

	fields := &types.ExtractedFields{
		Vendor:          ext.Vendor,
		Amount:          ext.Amount,
		Currency:        ext.Currency,
		TransactionDate: ext.TransactionDate,
		Confidence:      *ext.ExtractionConfidence,
	}

	candidates, err := s.transactions.ListCandidates(ctx, userID, s.candidateFilter(fields))
	if err != nil {
		s.markFailed(ctx, documentID)
		return nil, apperrors.NewDatabaseError(err)
	}

	scored := s.scoreAndRank(fields, candidates)
	result := &types.MatchResult{
		DocumentID:   documentID,
		CandidateNum: len(scored),
	}
	if len(scored) > 0 {
		result.BestScore = scored[0].composite
	}

	auto := s.isAutomatic(scored)

	if len(scored) > 0 {
		top := scored
		if len(top) > s.cfg.MaxResults {
			top = top[:s.cfg.MaxResults]
		}
		matches := make([]types.Match, 0, len(top))
		for i, c := range top {
			status := types.MatchStatusSuggested
			if auto && i == 0 {
				status = types.MatchStatusAutomatic
			}
			matches = append(matches, types.Match{
				DocumentID:    documentID,
				TransactionID: c.txn.ID,
				Confidence:    c.composite,
				Status:        status,
				Scores:        c.scores,
				Reasons:       c.reasons,
			})
		}
		if err := s.matches.CreateMatches(ctx, matches); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, apperrors.PreconditionFailed("already_matched", "document already matched")
			}
			s.markFailed(ctx, documentID)
			return nil, apperrors.NewDatabaseError(err)
		}
		result.Matches = matches
	}

	if auto {
		result.AutoMatched = true
	} else {
		priority := types.QueuePriorityNormal
		if len(scored) == 0 {
			// Nothing for a reviewer to confirm, needs investigation first.
			priority = types.QueuePriorityHigh
		}
		item := &types.ReconciliationQueueItem{
			DocumentID: documentID,
			UserID:     userID,
			Status:     types.QueueStatusPendingReview,
			Priority:   priority,
			Metadata: map[string]interface{}{
				"candidate_count": len(scored),
				"best_score":      result.BestScore,
			},
		}
		if id, err := s.reconciliation.CreateQueueItem(ctx, item); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				s.markFailed(ctx, documentID)
				return nil, apperrors.NewDatabaseError(err)
			}
			// A duplicate delivery already queued this document.
			log.Debugw("Queue item already exists", "documentId", documentID)
		} else {
			result.QueueItemID = &id
		}
	}

	if err := s.documents.UpdateStatus(ctx, documentID, types.ProcessingStatusCompleted); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	log.Infow("Matching finished",
		"documentId", documentID,
		"candidates", len(scored),
		"bestScore", result.BestScore,
		"autoMatched", result.AutoMatched)

	return result, nil
}

// candidateFilter narrows the ledger query before scoring: a ±N day window
// around the document date (or a lookback window when the date is unknown)
// and a coarse amount band.
func (s *MatchingService) candidateFilter(fields *types.ExtractedFields) store.CandidateFilter {
	filter := store.CandidateFilter{Limit: s.cfg.MaxCandidates}

	now := time.Now()
	if fields.TransactionDate != nil {
		if docDate, err := time.Parse("2006-01-02", *fields.TransactionDate); err == nil {
			window := time.Duration(s.cfg.CandidateDateWindowDays) * 24 * time.Hour
			filter.DateFrom = docDate.Add(-window)
			filter.DateTo = docDate.Add(window)
		}
	}
	if filter.DateFrom.IsZero() {
		filter.DateFrom = now.AddDate(0, 0, -s.cfg.LookbackDays)
		filter.DateTo = now
	}

	if fields.Amount != nil {
		tolerance := fields.Amount.Mul(decimal.NewFromFloat(s.cfg.CandidateAmountTolerance))
		min := fields.Amount.Sub(tolerance)
		max := fields.Amount.Add(tolerance)
		filter.AmountMin = &min
		filter.AmountMax = &max
	}

	return filter
}

// scoreAndRank scores every candidate and returns those clearing the suggest
// floor, best first. Ties on the composite break toward the closer date.
func (s *MatchingService) scoreAndRank(fields *types.ExtractedFields, candidates []types.Transaction) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, txn := range candidates {
		factorScores, composite, reasons := scoreCandidate(fields, &txn)
		if composite < s.cfg.MinSuggestThreshold {
			continue
		}
		scored = append(scored, scoredCandidate{
			txn:       txn,
			scores:    factorScores,
			composite: composite,
			reasons:   reasons,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].composite != scored[j].composite {
			return scored[i].composite > scored[j].composite
		}
		return scored[i].scores.Date > scored[j].scores.Date
	})
	return scored
}

// isAutomatic applies the auto-match policy: a high composite backed by
// strong vendor and near-exact amount evidence, with no runner-up close
// enough to make the choice ambiguous.
func (s *MatchingService) isAutomatic(scored []scoredCandidate) bool {
	if len(scored) == 0 {
		return false
	}
	best := scored[0]
	if best.composite < s.cfg.AutoMatchThreshold {
		return false
	}
	if best.scores.Vendor < 80 || best.scores.Amount < 95 {
		return false
	}
	if len(scored) > 1 && scored[1].composite >= best.composite-s.cfg.NearTieMargin {
		return false
	}
	return true
}

func (s *MatchingService) markFailed(ctx context.Context, documentID string) {
	if err := s.documents.UpdateStatus(ctx, documentID, types.ProcessingStatusFailed); err != nil {
		logger.GetLogger().Errorw("Failed to mark document failed", "documentId", documentID, "error", err)
	}
}
