package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Extraction holds both pipeline outputs for a document: the raw OCR text
// from the text-extraction stage and the structured fields filled in later by
// the AI stage. Exactly one extraction exists per document.
type Extraction struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	RawText       string `json:"rawText"`
	OCRConfidence int    `json:"ocrConfidence"`
	OCRQuality    int    `json:"ocrQuality"`

	// Structured fields, null until the AI stage runs.
	Vendor               *string          `json:"vendor,omitempty"`
	Amount               *decimal.Decimal `json:"amount,omitempty"`
	Currency             *string          `json:"currency,omitempty"`
	TransactionDate      *string          `json:"transactionDate,omitempty"` // YYYY-MM-DD
	ExtractionConfidence *int             `json:"extractionConfidence,omitempty"`
	QualityScore         *int             `json:"qualityScore,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasStructuredFields reports whether the AI stage has already populated this
// extraction.
func (e *Extraction) HasStructuredFields() bool {
	return e.ExtractionConfidence != nil
}

// ExtractedFields is the validated output of the AI field extractor.
type ExtractedFields struct {
	Vendor          *string          `json:"vendor"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        *string          `json:"currency"`
	TransactionDate *string          `json:"transactionDate"`
	Confidence      int              `json:"confidence"`
}

// FieldCount returns how many of the four structured fields are present.
func (f *ExtractedFields) FieldCount() int {
	count := 0
	if f.Vendor != nil && *f.Vendor != "" {
		count++
	}
	if f.Amount != nil {
		count++
	}
	if f.Currency != nil && *f.Currency != "" {
		count++
	}
	if f.TransactionDate != nil && *f.TransactionDate != "" {
		count++
	}
	return count
}
