package types

import "time"

// QueueStatus is the review lifecycle of a reconciliation queue item.
type QueueStatus string

const (
	QueueStatusPendingReview QueueStatus = "pending_review"
	QueueStatusInProgress    QueueStatus = "in_progress"
	QueueStatusCompleted     QueueStatus = "completed"
	QueueStatusRejected      QueueStatus = "rejected"
)

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusPendingReview: {QueueStatusInProgress, QueueStatusCompleted, QueueStatusRejected},
	QueueStatusInProgress:    {QueueStatusCompleted, QueueStatusRejected},
	QueueStatusCompleted:     {},
	QueueStatusRejected:      {},
}

// IsValid reports whether the status is a known queue state.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPendingReview, QueueStatusInProgress,
		QueueStatusCompleted, QueueStatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// Completed and rejected are terminal.
func (s QueueStatus) CanTransition(next QueueStatus) bool {
	for _, allowed := range queueTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// QueuePriority orders items in the review queue. Documents with no match
// candidates at all surface first.
type QueuePriority string

const (
	QueuePriorityHigh   QueuePriority = "high"
	QueuePriorityNormal QueuePriority = "normal"
	QueuePriorityLow    QueuePriority = "low"
)

// Rank maps priorities to a sortable weight, highest first.
func (p QueuePriority) Rank() int {
	switch p {
	case QueuePriorityHigh:
		return 3
	case QueuePriorityNormal:
		return 2
	case QueuePriorityLow:
		return 1
	default:
		return 0
	}
}

// ReconciliationQueueItem represents a document parked for manual review.
// At most one queue item exists per document.
type ReconciliationQueueItem struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"documentId"`
	UserID     string                 `json:"userId"`
	Status     QueueStatus            `json:"status"`
	Priority   QueuePriority          `json:"priority"`
	AssignedTo *string                `json:"assignedTo,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// QueueItemSummary is a queue listing entry with the document and extraction
// snapshot reviewers need to triage without opening the item.
type QueueItemSummary struct {
	ReconciliationQueueItem
	Document   Document    `json:"document"`
	Extraction *Extraction `json:"extraction,omitempty"`
}

// QueueItemDetail is a single queue item with its full candidate list.
type QueueItemDetail struct {
	ReconciliationQueueItem
	Document   Document               `json:"document"`
	Extraction *Extraction            `json:"extraction,omitempty"`
	Candidates []MatchWithTransaction `json:"candidates"`
}

// QueueItemUpdateRequest is the PATCH body for a queue item.
type QueueItemUpdateRequest struct {
	Status QueueStatus `json:"status" binding:"required"`
}
