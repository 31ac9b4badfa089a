package providers

import (
	"context"
	"errors"
	"fmt"
)

// Parser ist das Interface für den externen Dokumenten-Parser.
// Parse liefert das extrahierte Markdown einer PDF-Datei.
type Parser interface {
	Parse(ctx context.Context, pdfPath string) (string, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "landingai").
	Name() string
}

// Summarizer ist das Interface für den externen Zusammenfassungsdienst.
// Fehler des Summarizers sind für den Aufrufer nie fatal.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
	Name() string
}

// TransientError markiert einen vorübergehenden Provider-Fehler
// (Rate-Limit, Timeout), der mit Backoff wiederholt werden darf.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError markiert einen endgültigen Provider-Fehler,
// bei dem Wiederholen sinnlos ist.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent provider error: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient verpackt err als TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanent verpackt err als PermanentError.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsTransient prüft, ob err (auch verschachtelt) ein TransientError ist.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
