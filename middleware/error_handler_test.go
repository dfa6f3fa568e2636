package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorHandlerRouter(fail func(c *gin.Context)) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", fail)
	return r
}

func performGet(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestErrorHandler_AppErrorStatusAndBody(t *testing.T) {
	r := errorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(apperrors.DocumentNotFound("doc-1"))
	})

	w := performGet(r, "/boom")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DOCUMENT_NOT_FOUND", body["type"])
	assert.Equal(t, "Document not found", body["message"])
	assert.Equal(t, "404", body["code"])
	assert.Contains(t, body["details"], "doc-1")
}

func TestErrorHandler_ValidationDetailsIncluded(t *testing.T) {
	r := errorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(apperrors.ValidationFailed("invalid_status", "status must be one of: pending_review, in_progress, completed, rejected"))
	})

	w := performGet(r, "/boom")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pending_review")
}

func TestErrorHandler_CollaboratorDetailHidden(t *testing.T) {
	// Upstream failure internals must not leak to clients outside debug mode.
	r := errorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(apperrors.NewCollaboratorError("OCR", errors.New("connection refused to 10.0.0.5:9090")))
	})

	w := performGet(r, "/boom")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestErrorHandler_UnknownErrorIs500(t *testing.T) {
	r := errorHandlerRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("something unexpected"))
	})

	w := performGet(r, "/boom")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal Server Error")
}

func TestErrorHandler_NoErrorPassesThrough(t *testing.T) {
	r := errorHandlerRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := performGet(r, "/boom")

	assert.Equal(t, http.StatusOK, w.Code)
}
