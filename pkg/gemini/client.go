// Package gemini wraps the Google Gemini SDK for structured receipt field
// extraction.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// ExtractedData is the structured result the model returns. Fields the model
// could not find are null.
type ExtractedData struct {
	VendorName      *string          `json:"vendor_name"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	Currency        *string          `json:"currency"`
	TransactionDate *string          `json:"transaction_date"`
	Confidence      int              `json:"confidence"`
}

// ClientInterface defines the interface for Gemini client operations
type ClientInterface interface {
	ExtractFields(ctx context.Context, documentText string) (*ExtractedData, error)
}

type Client struct {
	client *genai.Client
	model  string
}

const extractionPrompt = `You are a receipt and invoice data extraction system.
Extract the following fields from the document text below and respond with a
single JSON object, nothing else:

{
  "vendor_name": string or null,      // merchant or supplier name
  "total_amount": number or null,     // final total paid, decimal
  "currency": string or null,         // ISO 4217 code, e.g. "EUR", "USD"
  "transaction_date": string or null, // format YYYY-MM-DD
  "confidence": number                // 0-100, your confidence in the extraction
}

Rules:
- Use null for any field not clearly present in the text.
- total_amount is the grand total, not a subtotal or a line item.
- Convert any date format found to YYYY-MM-DD.
- Do not guess a currency from context alone unless a symbol or code appears.

Document text:
`

// NewClient creates a Gemini client using the official SDK.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Client{client: c, model: model}, nil
}

// ExtractFields sends document text to the model and parses the structured
// JSON reply.
func (c *Client) ExtractFields(ctx context.Context, documentText string) (*ExtractedData, error) {
	log := logger.GetLogger()

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: extractionPrompt + documentText}},
	}}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		text = resp.Candidates[0].Content.Parts[0].Text
	}
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}

	data, err := ParseResponse(text)
	if err != nil {
		log.Warnw("Failed to parse model response", "error", err, "responseLength", len(text))
		return nil, err
	}
	return data, nil
}

// ParseResponse parses the model's JSON reply, tolerating markdown code
// fences some models still emit despite the JSON response MIME type.
func ParseResponse(text string) (*ExtractedData, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var data ExtractedData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("gemini: malformed extraction response: %w", err)
	}
	return &data, nil
}
