package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
)

// InvalidDocumentError bedeutet: die Datei ist kein lesbares PDF.
// Das ist für die gesamte Pipeline fatal, ohne Retry.
type InvalidDocumentError struct {
	Err error
}

func (e *InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid document: %v", e.Err)
}

func (e *InvalidDocumentError) Unwrap() error { return e.Err }

// LimitResult beschreibt die Arbeitskopie für die Pipeline.
type LimitResult struct {
	// Path ist die zu verarbeitende Datei: das Original oder die
	// gekürzte Arbeitskopie.
	Path string
	// OriginalPages ist immer die Seitenzahl der Originaldatei.
	OriginalPages int
	Truncated     bool
}

// PageLimitGuard erzwingt die harte Seitenobergrenze des Parse-Providers.
// Überschreitet ein PDF das Limit, entsteht eine gekürzte Arbeitskopie
// mit den ersten MaxPages Seiten.
type PageLimitGuard struct {
	MaxPages int
	Logger   *zap.Logger

	// austauschbar für Tests
	countPages func(path string) (int, error)
	trimPages  func(in, out string, maxPages int) error
}

// NewPageLimitGuard erstellt einen Guard mit pdfcpu als Backend.
func NewPageLimitGuard(maxPages int, logger *zap.Logger) *PageLimitGuard {
	return &PageLimitGuard{
		MaxPages:   maxPages,
		Logger:     logger,
		countPages: api.PageCountFile,
		trimPages: func(in, out string, maxPages int) error {
			return api.TrimFile(in, out, []string{fmt.Sprintf("1-%d", maxPages)}, nil)
		},
	}
}

// Limit prüft die Seitenzahl und erzeugt bei Bedarf die gekürzte
// Arbeitskopie. Der Aufrufer muss Cleanup auf jedem Ausstiegspfad rufen.
func (g *PageLimitGuard) Limit(path string) (*LimitResult, error) {
	pages, err := g.countPages(path)
	if err != nil {
		return nil, &InvalidDocumentError{Err: err}
	}
	if pages <= 0 {
		return nil, &InvalidDocumentError{Err: fmt.Errorf("pdf reports %d pages", pages)}
	}

	if pages <= g.MaxPages {
		g.Logger.Debug("PDF within page limit",
			zap.String("file", filepath.Base(path)), zap.Int("pages", pages))
		return &LimitResult{Path: path, OriginalPages: pages}, nil
	}

	g.Logger.Warn("PDF exceeds page limit, creating truncated working copy",
		zap.String("file", filepath.Base(path)),
		zap.Int("pages", pages), zap.Int("max_pages", g.MaxPages))

	ext := filepath.Ext(path)
	limited := strings.TrimSuffix(path, ext) + "_limited" + ext
	if err := g.trimPages(path, limited, g.MaxPages); err != nil {
		return nil, &InvalidDocumentError{Err: err}
	}

	return &LimitResult{Path: limited, OriginalPages: pages, Truncated: true}, nil
}

// Cleanup entfernt die gekürzte Arbeitskopie; das Original bleibt unberührt.
func (g *PageLimitGuard) Cleanup(res *LimitResult) {
	if res == nil || !res.Truncated {
		return
	}
	if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
		g.Logger.Warn("Failed to remove truncated working copy",
			zap.String("file", res.Path), zap.Error(err))
	}
}
