package models

import (
	"fmt"
	"time"
)

// PageRecord ist die Index-Einheit: eine logische Seite eines Dokuments,
// so wie sie in der Suchmaschine abgelegt wird. Die Feldnamen entsprechen
// dem Mapping des documents-Index.
type PageRecord struct {
	DocumentID   string    `json:"document_id"`
	Filename     string    `json:"filename"`
	Page         int       `json:"page"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary,omitempty"`
	Category     string    `json:"category"`
	MachineModel string    `json:"machine_model,omitempty"`
	PartNumbers  []string  `json:"part_numbers"`
	UploadDate   time.Time `json:"upload_date"`
	IndexedAt    time.Time `json:"indexed_at"`
	FileSize     int64     `json:"file_size"`

	// ProcessingStatus wird mitindiziert, damit die Suche ausschließlich
	// fertige Dokumente zurückliefern kann.
	ProcessingStatus string `json:"processing_status"`
}

// IndexID ist der idempotente Dokumentschlüssel im Index: gleiche Seite,
// gleicher Schlüssel, Upsert statt Duplikat.
func (p *PageRecord) IndexID() string {
	return fmt.Sprintf("%s:%d", p.DocumentID, p.Page)
}
