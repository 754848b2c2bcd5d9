package domain

import "time"

// DocumentStatus tracks an upload through extraction.
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is an uploaded file and the text extracted from it. Documents
// are transient working state, not tenant-of-record data.
type Document struct {
	ID            string
	TenantID      int64
	Filename      string
	ContentType   string
	FileSize      int64
	ExtractedText string
	Status        DocumentStatus
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
