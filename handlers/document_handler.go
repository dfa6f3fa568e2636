package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/middleware"
	documentSvc "github.com/ReceiptRadar/receipt-radar-backend/models/document/service"
	extractionSvc "github.com/ReceiptRadar/receipt-radar-backend/models/extraction/service"
	matchingSvc "github.com/ReceiptRadar/receipt-radar-backend/models/matching/service"
	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DocumentServiceInterface defines the methods used by DocumentHandler,
// allowing the handler to be tested with mocks.
type DocumentServiceInterface interface {
	UploadDocument(ctx context.Context, userID string, file io.Reader, fileSize int64, fileName string) (*types.DocumentUploadResponse, error)
	ListDocuments(ctx context.Context, userID string, limit, offset int) ([]types.Document, int64, error)
	GetDocument(ctx context.Context, id, userID string) (*types.DocumentResponse, error)
	DeleteDocument(ctx context.Context, id, userID string) error
	ServeFile(ctx context.Context, token string) (string, error)
}

// PipelineInterface covers the on-demand processing endpoints. Normally the
// job queue drives these stages; the endpoints exist to re-drive a stuck
// document or to process synchronously during development.
type PipelineInterface interface {
	ProcessOCR(ctx context.Context, documentID, userID string) (*extractionSvc.OCRStageResult, error)
	ExtractData(ctx context.Context, documentID, userID string) (*extractionSvc.AIStageResult, error)
	MatchTransactions(ctx context.Context, documentID, userID string) (*types.MatchResult, error)
}

// pipelineFacade joins the extraction and matching services into the single
// interface the handler consumes.
type pipelineFacade struct {
	*extractionSvc.ExtractionService
	*matchingSvc.MatchingService
}

// NewPipeline bundles the two stage services for handler wiring.
func NewPipeline(extraction *extractionSvc.ExtractionService, matching *matchingSvc.MatchingService) PipelineInterface {
	return &pipelineFacade{ExtractionService: extraction, MatchingService: matching}
}

var _ DocumentServiceInterface = (*documentSvc.DocumentService)(nil)

type DocumentHandler struct {
	documentService DocumentServiceInterface
	pipeline        PipelineInterface
}

func NewDocumentHandler(documentService DocumentServiceInterface, pipeline PipelineInterface) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		pipeline:        pipeline,
	}
}

func getUserIDFromContext(c *gin.Context) string {
	return c.GetString(string(middleware.UserIDKey))
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// bindJSONOrError binds JSON request body and sets validation error if binding fails.
// Returns true if binding succeeded, false if error was set (caller should return).
func bindJSONOrError(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request_payload", err.Error()))
		return false
	}
	return true
}

// PaginationParams holds parsed limit/offset query values.
type PaginationParams struct {
	Limit  int
	Offset int
}

func getPaginationParams(c *gin.Context, defaultLimit, defaultOffset int) PaginationParams {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 || limit > 100 {
		limit = defaultLimit
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", strconv.Itoa(defaultOffset)))
	if err != nil || offset < 0 {
		offset = defaultOffset
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// UploadDocumentHandler handles receipt and invoice uploads
// POST /v1/documents/upload (multipart)
func (h *DocumentHandler) UploadDocumentHandler(c *gin.Context) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	// Reject oversized requests at the HTTP level, with headroom for form fields
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, documentSvc.MaxFileSize+1024*1024)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("missing_file", "file field is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_file", "failed to open uploaded file"))
		return
	}
	defer file.Close()

	resp, err := h.documentService.UploadDocument(c.Request.Context(), userID, file, fileHeader.Size, fileHeader.Filename)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListDocumentsHandler lists the authenticated user's documents
// GET /v1/documents
func (h *DocumentHandler) ListDocumentsHandler(c *gin.Context) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	params := getPaginationParams(c, 20, 0)

	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": docs,
		"pagination": gin.H{
			"limit":  params.Limit,
			"offset": params.Offset,
			"total":  total,
		},
	})
}

// GetDocumentHandler retrieves a single document with signed download URLs
// GET /v1/documents/:id
func (h *DocumentHandler) GetDocumentHandler(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" || !isValidUUID(docID) {
		_ = c.Error(apperrors.ValidationFailed("validation_failed", "valid document ID is required"))
		return
	}

	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	resp, err := h.documentService.GetDocument(c.Request.Context(), docID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteDocumentHandler deletes a document and its derived data
// DELETE /v1/documents/:id
func (h *DocumentHandler) DeleteDocumentHandler(c *gin.Context) {
	docID := c.Param("id")
	if docID == "" || !isValidUUID(docID) {
		_ = c.Error(apperrors.ValidationFailed("validation_failed", "valid document ID is required"))
		return
	}

	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return
	}

	if err := h.documentService.DeleteDocument(c.Request.Context(), docID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Document deleted successfully",
	})
}

// ProcessOCRHandler runs the text-extraction stage synchronously
// POST /v1/documents/:id/process-ocr
func (h *DocumentHandler) ProcessOCRHandler(c *gin.Context) {
	docID, userID, ok := h.pipelineParams(c)
	if !ok {
		return
	}

	result, err := h.pipeline.ProcessOCR(c.Request.Context(), docID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExtractDataHandler runs the AI field-extraction stage synchronously
// POST /v1/documents/:id/extract-data
func (h *DocumentHandler) ExtractDataHandler(c *gin.Context) {
	docID, userID, ok := h.pipelineParams(c)
	if !ok {
		return
	}

	result, err := h.pipeline.ExtractData(c.Request.Context(), docID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MatchTransactionsHandler runs the matching stage synchronously
// POST /v1/documents/:id/match-transactions
func (h *DocumentHandler) MatchTransactionsHandler(c *gin.Context) {
	docID, userID, ok := h.pipelineParams(c)
	if !ok {
		return
	}

	result, err := h.pipeline.MatchTransactions(c.Request.Context(), docID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *DocumentHandler) pipelineParams(c *gin.Context) (docID, userID string, ok bool) {
	docID = c.Param("id")
	if docID == "" || !isValidUUID(docID) {
		_ = c.Error(apperrors.ValidationFailed("validation_failed", "valid document ID is required"))
		return "", "", false
	}

	userID = getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized("not_authenticated", "user not authenticated"))
		return "", "", false
	}

	return docID, userID, true
}

// ServeFileHandler serves a stored binary using a signed token
// GET /v1/files/:token
func (h *DocumentHandler) ServeFileHandler(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		_ = c.Error(apperrors.ValidationFailed("missing_token", "download token is required"))
		return
	}

	filePath, err := h.documentService.ServeFile(c.Request.Context(), token)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+filepath.Base(filePath)+"\"")
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")

	http.ServeFile(c.Writer, c.Request, filePath)
}
