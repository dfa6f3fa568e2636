package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	reconciliationSvc "github.com/ReceiptRadar/receipt-radar-backend/models/reconciliation/service"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/gin-gonic/gin"
)

// QueueServiceInterface defines the methods used by ReconciliationHandler.
type QueueServiceInterface interface {
	ListQueue(ctx context.Context, userID string, statusFilter string) ([]types.QueueItemSummary, error)
	GetQueueItem(ctx context.Context, id, userID string) (*types.QueueItemDetail, error)
	UpdateStatus(ctx context.Context, id, userID string, next types.QueueStatus) (*types.ReconciliationQueueItem, error)
}

var _ QueueServiceInterface = (*reconciliationSvc.QueueService)(nil)

type ReconciliationHandler struct {
	queueService QueueServiceInterface
}

func NewReconciliationHandler(queueService QueueServiceInterface) *ReconciliationHandler {
	return &ReconciliationHandler{
		queueService: queueService,
	}
}

// ListQueueHandler lists the caller's reconciliation queue
// GET /v1/reconciliation/queue?status=
func (h *ReconciliationHandler) ListQueueHandler(c *gin.Context) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	items, err := h.queueService.ListQueue(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  items,
		"count": len(items),
	})
}

// GetQueueItemHandler retrieves a queue item with its match candidates
// GET /v1/reconciliation/queue/:id
func (h *ReconciliationHandler) GetQueueItemHandler(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" || !isValidUUID(itemID) {
		_ = c.Error(apperrors.ValidationFailed("validation_failed", "valid queue item ID is required"))
		return
	}

	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	detail, err := h.queueService.GetQueueItem(c.Request.Context(), itemID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// UpdateQueueItemHandler moves a queue item through its review lifecycle
// PATCH /v1/reconciliation/queue/:id
func (h *ReconciliationHandler) UpdateQueueItemHandler(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" || !isValidUUID(itemID) {
		_ = c.Error(apperrors.ValidationFailed("validation_failed", "valid queue item ID is required"))
		return
	}

	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	var req types.QueueItemUpdateRequest
	if !bindJSONOrError(c, &req) {
		return
	}

	item, err := h.queueService.UpdateStatus(c.Request.Context(), itemID, userID, req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, item)
}
