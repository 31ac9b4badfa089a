package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrDocumentNotFound wird zurückgegeben, wenn ein Dokument nicht (mehr) existiert.
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidTransition wird bei einem unzulässigen Statuswechsel zurückgegeben.
var ErrInvalidTransition = errors.New("invalid status transition")

// ProcessingStatus beschreibt den Zustand eines Dokuments in der Ingestion-Pipeline.
type ProcessingStatus string

const (
	StatusUploaded    ProcessingStatus = "uploaded"
	StatusParsing     ProcessingStatus = "parsing"
	StatusSummarizing ProcessingStatus = "summarizing"
	StatusIndexing    ProcessingStatus = "indexing"
	StatusReady       ProcessingStatus = "ready"
	StatusFailed      ProcessingStatus = "failed"
)

// statusTransitions ist die feste Übergangstabelle der Pipeline. Jeder
// Statuswechsel wird gegen diese Tabelle geprüft; READY und FAILED sind final.
var statusTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusUploaded:    {StatusParsing},
	StatusParsing:     {StatusSummarizing, StatusFailed},
	StatusSummarizing: {StatusIndexing, StatusFailed},
	StatusIndexing:    {StatusReady, StatusFailed},
	StatusReady:       {},
	StatusFailed:      {},
}

// CanTransitionTo prüft, ob der Wechsel zu next laut Übergangstabelle erlaubt ist.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal gibt zurück, ob der Status final ist.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// DocumentCategory ist die Kategorie eines Handbuchs.
type DocumentCategory string

const (
	CategoryMaintenance DocumentCategory = "maintenance"
	CategoryOperations  DocumentCategory = "operations"
	CategorySpareParts  DocumentCategory = "spare_parts"
)

// ParseCategory validiert einen Kategorie-String.
func ParseCategory(s string) (DocumentCategory, error) {
	switch DocumentCategory(s) {
	case CategoryMaintenance, CategoryOperations, CategorySpareParts:
		return DocumentCategory(s), nil
	}
	return "", fmt.Errorf("unknown category %q (expected maintenance, operations or spare_parts)", s)
}

// Document repräsentiert ein hochgeladenes PDF-Handbuch und dessen Metadaten.
type Document struct {
	ID        string    `json:"document_id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"upload_date"`
	UpdatedAt time.Time `json:"-"`

	Filename     string           `json:"filename" gorm:"not null"`
	Category     DocumentCategory `json:"category" gorm:"type:varchar(32);index"`
	MachineModel string           `json:"machine_model,omitempty" gorm:"index"`

	Status       ProcessingStatus `json:"status" gorm:"type:varchar(16);index;default:'uploaded'"`
	ErrorMessage string           `json:"error_message,omitempty"`

	// DeclaredPageCount ist immer die Seitenzahl der Originaldatei,
	// auch wenn für die Verarbeitung gekürzt wurde.
	DeclaredPageCount int  `json:"page_count"`
	Truncated         bool `json:"truncated"`

	FileKey  string `json:"-" gorm:"not null"` // Schlüssel im File-Store
	FileSize int64  `json:"file_size"`

	ReadyAt *time.Time `json:"ready_at,omitempty"`
}

// StatusMessage baut die menschenlesbare Notiz für die Status-Antwort,
// inklusive Kürzungshinweis.
func (d *Document) StatusMessage(maxPages int) string {
	msg := fmt.Sprintf("Document is %s.", d.Status)
	if d.Status == StatusFailed && d.ErrorMessage != "" {
		msg = fmt.Sprintf("Document processing failed: %s", d.ErrorMessage)
	}
	if d.Truncated {
		msg += fmt.Sprintf(" Note: the original file has %d pages; only the first %d pages were processed.",
			d.DeclaredPageCount, maxPages)
	}
	return msg
}
