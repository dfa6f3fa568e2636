// Package service implements the reconciliation queue: the worklist of
// documents whose best match was not confident enough for automatic
// resolution.
package service

import (
	"context"
	"errors"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/internal/store"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
)

// QueueService handles reviewer interactions with the reconciliation queue.
type QueueService struct {
	queue   store.ReconciliationStore
	matches store.MatchStore
}

// NewQueueService creates a new queue service.
func NewQueueService(queue store.ReconciliationStore, matches store.MatchStore) *QueueService {
	return &QueueService{queue: queue, matches: matches}
}

// defaultStatuses is the listing filter when the caller does not ask for a
// specific status: everything still awaiting a decision.
var defaultStatuses = []types.QueueStatus{
	types.QueueStatusPendingReview,
	types.QueueStatusInProgress,
}

// ListQueue returns the caller's queue items, highest priority first. An
// empty statusFilter selects open items; otherwise exactly the requested
// status.
func (s *QueueService) ListQueue(ctx context.Context, userID string, statusFilter string) ([]types.QueueItemSummary, error) {
	statuses := defaultStatuses
	if statusFilter != "" {
		status := types.QueueStatus(statusFilter)
		if !status.IsValid() {
			return nil, apperrors.ValidationFailed("invalid_status",
				"status must be one of: pending_review, in_progress, completed, rejected")
		}
		statuses = []types.QueueStatus{status}
	}

	items, err := s.queue.ListQueueItems(ctx, userID, statuses)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return items, nil
}

// GetQueueItem returns a single queue item with the document, its extraction
// snapshot and the full candidate list ordered by descending confidence.
func (s *QueueService) GetQueueItem(ctx context.Context, id, userID string) (*types.QueueItemDetail, error) {
	item, err := s.queue.GetQueueItemDetail(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Queue item", id)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	candidates, err := s.matches.ListWithTransactions(ctx, item.DocumentID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	return &types.QueueItemDetail{
		ReconciliationQueueItem: item.ReconciliationQueueItem,
		Document:                item.Document,
		Extraction:              item.Extraction,
		Candidates:              candidates,
	}, nil
}

// UpdateStatus transitions a queue item through its review lifecycle.
// Entering in_progress stamps the caller as assignee; completed and rejected
// are terminal.
func (s *QueueService) UpdateStatus(ctx context.Context, id, userID string, next types.QueueStatus) (*types.ReconciliationQueueItem, error) {
	if !next.IsValid() {
		return nil, apperrors.ValidationFailed("invalid_status",
			"status must be one of: pending_review, in_progress, completed, rejected")
	}

	item, err := s.queue.GetQueueItem(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Queue item", id)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	if !item.Status.CanTransition(next) {
		return nil, apperrors.InvalidStatusTransition(string(item.Status), string(next))
	}

	var assignedTo *string
	if next == types.QueueStatusInProgress {
		assignedTo = &userID
	}

	updated, err := s.queue.UpdateQueueItemStatus(ctx, id, next, assignedTo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("Queue item", id)
		}
		return nil, apperrors.NewDatabaseError(err)
	}

	logger.GetLogger().Infow("Queue item status updated",
		"queueItemId", id,
		"from", item.Status,
		"to", next,
		"assignedTo", assignedTo)

	return updated, nil
}
