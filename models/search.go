package models

import "time"

// DefaultPageSize und MaxPageSize begrenzen die Treffermenge pro Anfrage.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SearchFilters grenzen die Treffermenge ein; alle Filter werden mit AND verknüpft.
type SearchFilters struct {
	Category     string     `json:"category" binding:"omitempty,oneof=maintenance operations spare_parts"`
	MachineModel string     `json:"machine_model"`
	DateFrom     *time.Time `json:"date_from"`
	DateTo       *time.Time `json:"date_to"`
	PartNumbers  []string   `json:"part_numbers"`
}

// SearchRequest ist der Request-Body für POST /search.
//
// IncludeHighlights ist ein Pointer, damit "nicht gesetzt" vom expliziten
// false unterscheidbar bleibt (Default: true).
type SearchRequest struct {
	Query             string         `json:"query" binding:"required"`
	Filters           *SearchFilters `json:"filters"`
	Page              int            `json:"page"`
	PageSize          int            `json:"page_size"`
	EnableFuzzy       bool           `json:"enable_fuzzy"`
	IncludeHighlights *bool          `json:"include_highlights"`
	IncludeContent    bool           `json:"include_content"`
}

// Normalize setzt Defaults und klemmt die Paginierung auf gültige Werte.
func (r *SearchRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
}

// Highlights gibt zurück, ob markierte Snippets angefordert sind.
func (r *SearchRequest) Highlights() bool {
	return r.IncludeHighlights == nil || *r.IncludeHighlights
}

// SearchResult ist ein einzelner Treffer nach dem Ranking-Merge.
type SearchResult struct {
	DocumentID   string   `json:"document_id"`
	Filename     string   `json:"filename"`
	Page         int      `json:"page"`
	Category     string   `json:"category"`
	MachineModel string   `json:"machine_model,omitempty"`
	PartNumbers  []string `json:"part_numbers,omitempty"`

	// Score ist baseScore * Feedback-Boost.
	Score float64 `json:"score"`

	Snippet            string `json:"snippet,omitempty"`
	Content            string `json:"content,omitempty"`
	HighlightedContent string `json:"highlighted_content,omitempty"`
	Summary            string `json:"summary,omitempty"`

	UploadDate time.Time `json:"upload_date"`
}

// SearchResponse ist die Antwort auf POST /search.
type SearchResponse struct {
	Query    string         `json:"query"`
	Results  []SearchResult `json:"results"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	TookMs   int            `json:"took_ms"`
}
