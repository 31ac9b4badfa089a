package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"manual-hand/config"
	"manual-hand/models"
)

// NewClient erstellt einen Elasticsearch-Client aus der Konfiguration.
func NewClient(cfg *config.Config) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ElasticURL},
		Username:  cfg.ElasticUser,
		Password:  cfg.ElasticPassword,
	})
}

// Engine kapselt den documents-Index: Upsert, Löschen und Suche.
// Seiten werden unter dem idempotenten Schlüssel "document_id:page"
// abgelegt, Wiederholungen überschreiben also statt zu duplizieren.
type Engine struct {
	ES     *elasticsearch.Client
	Index  string
	Logger *zap.Logger
}

// NewEngine erstellt eine Engine für den konfigurierten Index.
func NewEngine(es *elasticsearch.Client, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{ES: es, Index: cfg.ElasticIndex, Logger: logger}
}

// EnsureIndex legt den documents-Index mit Schema an, falls er fehlt.
func (e *Engine) EnsureIndex(ctx context.Context) error {
	res, err := e.ES.Indices.Exists([]string{e.Index}, e.ES.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	e.Logger.Info("Creating index", zap.String("index", e.Index))
	create, err := e.ES.Indices.Create(e.Index,
		e.ES.Indices.Create.WithContext(ctx),
		e.ES.Indices.Create.WithBody(strings.NewReader(documentsIndexBody)),
	)
	if err != nil {
		return err
	}
	defer create.Body.Close()
	if create.IsError() {
		return fmt.Errorf("create index %s: %s", e.Index, create.String())
	}
	return nil
}

// RecreateIndex löscht den Index und legt ihn neu an.
func (e *Engine) RecreateIndex(ctx context.Context) error {
	res, err := e.ES.Indices.Delete([]string{e.Index},
		e.ES.Indices.Delete.WithContext(ctx),
		e.ES.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return err
	}
	res.Body.Close()
	return e.EnsureIndex(ctx)
}

// bulkItemResponse ist die pro-Item-Antwort der Bulk-API.
type bulkItemResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert schreibt alle Seiten eines Dokuments in einem Bulk-Request.
// Die Antwort wird pro Item ausgewertet; zurückgegeben wird die Anzahl
// erfolgreich indizierter Seiten und ein Fehler, sobald auch nur eine
// Seite fehlschlägt.
func (e *Engine) BulkUpsert(ctx context.Context, pages []models.PageRecord) (int, error) {
	if len(pages) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for i := range pages {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, e.Index, pages[i].IndexID())
		buf.WriteString(meta)
		buf.WriteByte('\n')
		doc, err := json.Marshal(&pages[i])
		if err != nil {
			return 0, err
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := e.ES.Bulk(bytes.NewReader(buf.Bytes()),
		e.ES.Bulk.WithContext(ctx),
		e.ES.Bulk.WithIndex(e.Index),
		e.ES.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("bulk request failed: %s", res.String())
	}

	var parsed bulkItemResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, err
	}

	succeeded := 0
	var firstErr string
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error == nil && op.Status < 300 {
				succeeded++
			} else if firstErr == "" && op.Error != nil {
				firstErr = fmt.Sprintf("%s: %s", op.ID, op.Error.Reason)
			}
		}
	}
	if succeeded != len(pages) {
		return succeeded, fmt.Errorf("bulk upsert: %d of %d pages failed (first: %s)",
			len(pages)-succeeded, len(pages), firstErr)
	}
	return succeeded, nil
}

// DeleteDocument entfernt alle Seiten eines Dokuments aus dem Index.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := e.ES.DeleteByQuery([]string{e.Index}, strings.NewReader(query),
		e.ES.DeleteByQuery.WithContext(ctx),
		e.ES.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("delete_by_query failed: %s", res.String())
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	e.Logger.Info("Deleted pages from index",
		zap.String("document_id", documentID), zap.Int64("deleted", parsed.Deleted))
	return parsed.Deleted, nil
}

// Hit ist ein roher Suchtreffer.
type Hit struct {
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    models.PageRecord   `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// Result ist die ausgewertete Antwort der Such-API.
type Result struct {
	Took  int
	Total int
	Hits  []Hit
}

// Search führt die übergebene Query-DSL gegen den documents-Index aus.
func (e *Engine) Search(ctx context.Context, body map[string]interface{}, from, size int) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := e.ES.Search(
		e.ES.Search.WithContext(ctx),
		e.ES.Search.WithIndex(e.Index),
		e.ES.Search.WithBody(bytes.NewReader(payload)),
		e.ES.Search.WithFrom(from),
		e.ES.Search.WithSize(size),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("search failed (%d): %s", res.StatusCode, string(data))
	}

	var parsed struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &Result{Took: parsed.Took, Total: parsed.Hits.Total.Value, Hits: parsed.Hits.Hits}, nil
}
