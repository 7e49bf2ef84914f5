package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

type DocumentType string

const (
	TypePDF      DocumentType = "pdf"
	TypeImage    DocumentType = "image"
	TypeHTML     DocumentType = "html"
	TypeMarkdown DocumentType = "markdown"
	TypeUnknown  DocumentType = "unknown"
)

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Type        DocumentType   `json:"type"`
	AgentID     string         `json:"agent_id,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ExtractedAt *time.Time     `json:"extracted_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DetectDocumentType maps an already-sniffed MIME type onto the closed
// pipeline type enum. How the MIME type was determined (magic bytes vs.
// declared Content-Type) is upstream of this core.
func DetectDocumentType(mimeType string) DocumentType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch {
	case mt == "application/pdf":
		return TypePDF
	case strings.HasPrefix(mt, "image/"):
		return TypeImage
	case mt == "text/html" || mt == "application/xhtml+xml":
		return TypeHTML
	case mt == "text/markdown" || mt == "text/x-markdown":
		return TypeMarkdown
	case mt == "text/plain":
		// Plain text flows through the markdown pipeline unchanged.
		return TypeMarkdown
	default:
		return TypeUnknown
	}
}
