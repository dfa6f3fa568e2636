package types

import "time"

// ProcessingStatus tracks a document through the extraction pipeline.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// processingTransitions is the allowed transition table. A completed document
// re-enters processing when a later pipeline stage picks it up; failed is
// terminal.
var processingTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingStatusPending:    {ProcessingStatusProcessing},
	ProcessingStatusProcessing: {ProcessingStatusCompleted, ProcessingStatusFailed},
	ProcessingStatusCompleted:  {ProcessingStatusProcessing},
	ProcessingStatusFailed:     {},
}

// IsValid reports whether the status is a known pipeline state.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusProcessing,
		ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	for _, allowed := range processingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Document is an uploaded receipt, invoice or email awaiting reconciliation.
type Document struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	FileName      string           `json:"fileName"`
	FilePath      string           `json:"-"` // never expose internal storage path
	ThumbnailPath *string          `json:"-"`
	FileSize      int64            `json:"fileSize"`
	MimeType      string           `json:"mimeType"`
	Status        ProcessingStatus `json:"status"`
	OCRConfidence *int             `json:"ocrConfidence,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// DocumentResponse augments a document with time-limited access URLs.
type DocumentResponse struct {
	Document
	DownloadURL  string `json:"downloadUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// DocumentUploadResponse is returned by the upload endpoint before any
// pipeline stage has run.
type DocumentUploadResponse struct {
	Document Document `json:"document"`
	JobID    string   `json:"jobId,omitempty"`
}
