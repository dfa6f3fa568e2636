package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/middleware"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testQueueItemID = "7f1c9f0e-6d4b-4f2a-8c3d-0a1b2c3d4e5f"

type MockQueueService struct{ mock.Mock }

func (m *MockQueueService) ListQueue(ctx context.Context, userID string, statusFilter string) ([]types.QueueItemSummary, error) {
	args := m.Called(ctx, userID, statusFilter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.QueueItemSummary), args.Error(1)
}
func (m *MockQueueService) GetQueueItem(ctx context.Context, id, userID string) (*types.QueueItemDetail, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.QueueItemDetail), args.Error(1)
}
func (m *MockQueueService) UpdateStatus(ctx context.Context, id, userID string, next types.QueueStatus) (*types.ReconciliationQueueItem, error) {
	args := m.Called(ctx, id, userID, next)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ReconciliationQueueItem), args.Error(1)
}

func reconciliationTestRouter(svc QueueServiceInterface, userID string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(string(middleware.UserIDKey), userID)
		}
	})

	h := NewReconciliationHandler(svc)
	r.GET("/v1/reconciliation/queue", h.ListQueueHandler)
	r.GET("/v1/reconciliation/queue/:id", h.GetQueueItemHandler)
	r.PATCH("/v1/reconciliation/queue/:id", h.UpdateQueueItemHandler)
	return r
}

func TestListQueueHandler_PassesStatusFilter(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	svc.On("ListQueue", mock.Anything, testUserID, "pending_review").
		Return([]types.QueueItemSummary{{}, {}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/reconciliation/queue?status=pending_review", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"count\":2")
	svc.AssertExpectations(t)
}

func TestListQueueHandler_InvalidStatus(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	svc.On("ListQueue", mock.Anything, testUserID, "archived").
		Return(nil, apperrors.ValidationFailed("invalid_status", "status must be one of: pending_review, in_progress, completed, rejected"))

	req := httptest.NewRequest(http.MethodGet, "/v1/reconciliation/queue?status=archived", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetQueueItemHandler_Success(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	svc.On("GetQueueItem", mock.Anything, testQueueItemID, testUserID).
		Return(&types.QueueItemDetail{
			ReconciliationQueueItem: types.ReconciliationQueueItem{ID: testQueueItemID},
			Candidates:              []types.MatchWithTransaction{{Match: types.Match{Confidence: 88}}},
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/reconciliation/queue/"+testQueueItemID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testQueueItemID)
	assert.Contains(t, w.Body.String(), "\"confidence\":88")
}

func TestUpdateQueueItemHandler_Success(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	svc.On("UpdateStatus", mock.Anything, testQueueItemID, testUserID, types.QueueStatusInProgress).
		Return(&types.ReconciliationQueueItem{ID: testQueueItemID, Status: types.QueueStatusInProgress}, nil)

	body := bytes.NewBufferString(`{"status":"in_progress"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/reconciliation/queue/"+testQueueItemID, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "in_progress")
}

func TestUpdateQueueItemHandler_MissingStatus(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/reconciliation/queue/"+testQueueItemID, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateQueueItemHandler_InvalidTransition(t *testing.T) {
	svc := new(MockQueueService)
	r := reconciliationTestRouter(svc, testUserID)

	svc.On("UpdateStatus", mock.Anything, testQueueItemID, testUserID, types.QueueStatusInProgress).
		Return(nil, apperrors.InvalidStatusTransition("completed", "in_progress"))

	body := bytes.NewBufferString(`{"status":"in_progress"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/reconciliation/queue/"+testQueueItemID, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATUS_TRANSITION")
}
