package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"manual-hand/config"
	"manual-hand/models"
	"manual-hand/providers"
)

// ErrPipelineBusy: für dieses Dokument läuft bereits eine Pipeline.
// Pro document_id ist höchstens ein Lauf gleichzeitig erlaubt.
var ErrPipelineBusy = errors.New("pipeline already running for this document")

// DocumentStore ist der schmale Vertrag der Pipeline zum Metadaten-Store.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateStatus(ctx context.Context, id string, next models.ProcessingStatus, updates map[string]interface{}) error
}

// PageIndexer ist der schmale Vertrag zur Suchmaschine.
type PageIndexer interface {
	BulkUpsert(ctx context.Context, pages []models.PageRecord) (int, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
}

// FileReader liest hochgeladene Dateien aus dem File-Store.
type FileReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Pipeline treibt ein Dokument durch parse → summarize → index.
// Jeder Statuswechsel läuft über die Übergangstabelle; vor jedem Wechsel
// wird geprüft, ob das Dokument zwischenzeitlich gelöscht wurde.
type Pipeline struct {
	Config     *config.Config
	Store      DocumentStore
	Files      FileReader
	Index      PageIndexer
	Parser     providers.Parser
	Summarizer providers.Summarizer
	Guard      *PageLimitGuard
	Chunker    *ContentChunker
	Logger     *zap.Logger

	// retryBase ist die Basis des exponentiellen Backoffs (Tests setzen
	// einen kleineren Wert).
	retryBase time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPipeline erstellt eine neue Instanz der Ingestion-Pipeline.
func NewPipeline(cfg *config.Config, store DocumentStore, files FileReader, idx PageIndexer,
	parser providers.Parser, summarizer providers.Summarizer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		Config:     cfg,
		Store:      store,
		Files:      files,
		Index:      idx,
		Parser:     parser,
		Summarizer: summarizer,
		Guard:      NewPageLimitGuard(cfg.MaxPages, logger),
		Chunker:    NewContentChunker(logger),
		Logger:     logger,
		retryBase:  2 * time.Second,
		inflight:   map[string]struct{}{},
	}
}

func (p *Pipeline) acquire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}

// Run verarbeitet ein hochgeladenes Dokument bis READY oder FAILED.
// Fehler werden am Dokument vermerkt und nicht an den Upload-Aufrufer
// zurückgereicht; der Rückgabewert dient Logging und Metriken.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	if !p.acquire(documentID) {
		return ErrPipelineBusy
	}
	defer p.release(documentID)

	log := p.Logger.With(zap.String("document_id", documentID))

	doc, err := p.Store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusUploaded {
		return fmt.Errorf("document is %s, expected %s", doc.Status, models.StatusUploaded)
	}

	// Datei aus dem File-Store in eine lokale Arbeitsdatei holen.
	data, err := p.Files.Read(ctx, doc.FileKey)
	if err != nil {
		return p.fail(ctx, documentID, models.StatusUploaded, fmt.Sprintf("failed to read uploaded file: %v", err))
	}
	tmp := filepath.Join(os.TempDir(), documentID+".pdf")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return p.fail(ctx, documentID, models.StatusUploaded, fmt.Sprintf("failed to stage file: %v", err))
	}
	defer os.Remove(tmp)

	// Stage 0: Seitenlimit prüfen, ggf. gekürzte Arbeitskopie erzeugen.
	limit, err := p.Guard.Limit(tmp)
	if err != nil {
		log.Error("Page limit guard rejected document", zap.Error(err))
		return p.fail(ctx, documentID, models.StatusUploaded, err.Error())
	}
	defer p.Guard.Cleanup(limit)

	if err := p.Store.UpdateStatus(ctx, documentID, models.StatusParsing, map[string]interface{}{
		"declared_page_count": limit.OriginalPages,
		"truncated":           limit.Truncated,
	}); err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}

	// Stage 1: Parsen, transiente Fehler mit Backoff wiederholen.
	log.Info("Stage 1: parsing document",
		zap.Int("pages", limit.OriginalPages), zap.Bool("truncated", limit.Truncated))
	markdown, err := p.parseWithRetry(ctx, limit.Path, log)
	if err != nil {
		return p.fail(ctx, documentID, models.StatusParsing, err.Error())
	}

	chunks := p.Chunker.ChunkByPage(markdown)
	if len(chunks) == 0 {
		return p.fail(ctx, documentID, models.StatusParsing, "parser returned no usable content")
	}

	if deleted, err := p.checkAlive(ctx, documentID); deleted || err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}
	if err := p.Store.UpdateStatus(ctx, documentID, models.StatusSummarizing, nil); err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}

	// Stage 2: Zusammenfassen. Fehler sind hier nie fatal: Summaries sind
	// eine Ranking-Verbesserung, keine Korrektheitsanforderung.
	log.Info("Stage 2: summarizing pages", zap.Int("pages", len(chunks)))
	summaries := make([]string, len(chunks))
	if p.Config.GenerateSummaries && p.Summarizer != nil {
		for i, chunk := range chunks {
			if ctx.Err() != nil {
				// Abbruch heißt in der Regel Shutdown: das Dokument bleibt
				// bewusst in SUMMARIZING stehen, der Janitor setzt es
				// später auf FAILED und gibt es für Reprocess frei.
				return ctx.Err()
			}
			summary, err := p.Summarizer.Summarize(ctx, chunk.Content)
			if err != nil {
				log.Warn("Summarization failed, continuing with empty summary",
					zap.Int("page", chunk.Page), zap.Error(err))
				continue
			}
			summaries[i] = summary
		}
	}

	if deleted, err := p.checkAlive(ctx, documentID); deleted || err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}
	if err := p.Store.UpdateStatus(ctx, documentID, models.StatusIndexing, nil); err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}

	// Frische Metadaten für die Index-Records holen.
	doc, err = p.Store.GetDocument(ctx, documentID)
	if err != nil {
		return p.abortIfDeleted(log, documentID, err, false)
	}

	// Stage 3: Indizieren, all-or-nothing pro Dokument.
	log.Info("Stage 3: indexing pages", zap.Int("pages", len(chunks)))
	now := time.Now().UTC()
	records := make([]models.PageRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = models.PageRecord{
			DocumentID:       doc.ID,
			Filename:         doc.Filename,
			Page:             chunk.Page,
			Content:          chunk.Content,
			Summary:          summaries[i],
			Category:         string(doc.Category),
			MachineModel:     doc.MachineModel,
			PartNumbers:      p.Chunker.ExtractPartNumbers(chunk.Content),
			UploadDate:       doc.CreatedAt,
			IndexedAt:        now,
			FileSize:         doc.FileSize,
			ProcessingStatus: string(models.StatusReady),
		}
	}

	indexed, err := p.Index.BulkUpsert(ctx, records)
	if err != nil {
		// Kein halb indiziertes Dokument zurücklassen.
		if _, delErr := p.Index.DeleteDocument(ctx, documentID); delErr != nil {
			log.Warn("Failed to clean up partially indexed pages", zap.Error(delErr))
		}
		return p.fail(ctx, documentID, models.StatusIndexing,
			fmt.Sprintf("indexing failed: %d of %d pages indexed: %v", indexed, len(records), err))
	}

	if deleted, err := p.checkAlive(ctx, documentID); deleted || err != nil {
		return p.abortIfDeleted(log, documentID, err, true)
	}
	if err := p.Store.UpdateStatus(ctx, documentID, models.StatusReady, map[string]interface{}{
		"ready_at": now,
	}); err != nil {
		return p.abortIfDeleted(log, documentID, err, true)
	}

	log.Info("Pipeline complete", zap.Int("pages_indexed", indexed))
	return nil
}

// parseWithRetry ruft den Parser auf und wiederholt ausschließlich
// transiente Fehler mit exponentiellem Backoff plus Jitter.
func (p *Pipeline) parseWithRetry(ctx context.Context, path string, log *zap.Logger) (string, error) {
	maxAttempts := p.Config.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		markdown, err := p.Parser.Parse(ctx, path)
		if err == nil {
			return markdown, nil
		}
		lastErr = err

		if !providers.IsTransient(err) {
			log.Error("Permanent parse failure, not retrying", zap.Error(err))
			return "", err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.retryBase*(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(p.retryBase)))
		log.Warn("Transient parse failure, retrying",
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("parse failed after %d attempts: %w", maxAttempts, lastErr)
}

// checkAlive meldet, ob das Dokument zwischenzeitlich gelöscht wurde.
func (p *Pipeline) checkAlive(ctx context.Context, id string) (deleted bool, err error) {
	_, err = p.Store.GetDocument(ctx, id)
	if errors.Is(err, models.ErrDocumentNotFound) {
		return true, nil
	}
	return false, err
}

// abortIfDeleted beendet den Lauf, ohne weitere Writes für ein gelöschtes
// Dokument auszuführen. purgeIndex räumt bereits geschriebene Seiten ab,
// damit ein später Hintergrund-Write kein gelöschtes Dokument wiederbelebt.
func (p *Pipeline) abortIfDeleted(log *zap.Logger, id string, err error, purgeIndex bool) error {
	if err == nil || errors.Is(err, models.ErrDocumentNotFound) {
		log.Info("Document deleted mid-pipeline, aborting run")
		if purgeIndex {
			if _, delErr := p.Index.DeleteDocument(context.Background(), id); delErr != nil {
				log.Warn("Failed to purge index entries of deleted document", zap.Error(delErr))
			}
		}
		return nil
	}
	return err
}

// fail markiert das Dokument als FAILED. Liegt es noch in UPLOADED, wird
// zuerst der PARSING-Schritt geschrieben, damit der Wechsel der
// Übergangstabelle entspricht.
func (p *Pipeline) fail(ctx context.Context, id string, current models.ProcessingStatus, msg string) error {
	if current == models.StatusUploaded {
		if err := p.Store.UpdateStatus(ctx, id, models.StatusParsing, nil); err != nil {
			if errors.Is(err, models.ErrDocumentNotFound) {
				return nil
			}
			return err
		}
	}
	if err := p.Store.UpdateStatus(ctx, id, models.StatusFailed, map[string]interface{}{
		"error_message": msg,
	}); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return nil
		}
		return err
	}
	p.Logger.Error("Pipeline failed", zap.String("document_id", id), zap.String("reason", msg))
	return fmt.Errorf("pipeline failed: %s", msg)
}
