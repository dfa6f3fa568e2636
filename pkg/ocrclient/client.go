// Package ocrclient is a thin HTTP client for the external OCR service that
// turns document binaries (PDF and image uploads) into raw text.
package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/logger"
)

// ClientInterface defines the interface for OCR client operations
type ClientInterface interface {
	ExtractText(ctx context.Context, fileName, mimeType string, file io.Reader) (*Result, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Result is the OCR service response.
type Result struct {
	Text       string `json:"text"`
	Confidence int    `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// ExtractText uploads a document and returns the recognized text with the
// engine's confidence score (0-100).
func (c *Client) ExtractText(ctx context.Context, fileName, mimeType string, file io.Reader) (*Result, error) {
	log := logger.GetLogger()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// CreateFormFile hardcodes application/octet-stream; the OCR service
	// routes by part content type, so build the header manually.
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to buffer file for OCR: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/ocr", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Debugw("Sending document to OCR service", "fileName", fileName, "mimeType", mimeType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute OCR request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		log.Warnw("OCR service returned non-OK status", "statusCode", resp.StatusCode, "error", errResp.Error)
		return nil, fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, errResp.Error)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}

	log.Debugw("OCR response received", "textLength", len(result.Text), "confidence", result.Confidence)
	return &result, nil
}
