package landingai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"manual-hand/config"
	"manual-hand/providers"
)

var httpClient = &http.Client{Timeout: 120 * time.Second}

// Fetcher implementiert das Parser-Interface für die LandingAI-ADE-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen LandingAI-Parser.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "landingai"
}

// Parse lädt die PDF-Datei zum Parse-Endpunkt hoch und gibt das extrahierte
// Markdown zurück. Rate-Limits, Timeouts und 5xx-Antworten werden als
// TransientError klassifiziert, alle übrigen Fehler als PermanentError.
func (f *Fetcher) Parse(ctx context.Context, pdfPath string) (string, error) {
	log := f.Logger.With(zap.String("provider", f.Name()), zap.String("file", filepath.Base(pdfPath)))

	file, err := os.Open(pdfPath)
	if err != nil {
		return "", providers.Permanent("parse", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("document", filepath.Base(pdfPath))
	if err != nil {
		return "", providers.Permanent("parse", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", providers.Permanent("parse", err)
	}
	if err := writer.WriteField("model", f.Config.ParseModel); err != nil {
		return "", providers.Permanent("parse", err)
	}
	if err := writer.Close(); err != nil {
		return "", providers.Permanent("parse", err)
	}

	url := f.Config.ParseBaseURL + "/parse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", providers.Permanent("parse", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Basic "+f.Config.ParseAPIKey)

	log.Info("Calling parse API", zap.String("model", f.Config.ParseModel))
	resp, err := httpClient.Do(req)
	if err != nil {
		// Netzwerkfehler (Timeouts, abgerissene Verbindungen) sind
		// transient und werden vom Aufrufer mit Backoff wiederholt.
		return "", providers.Transient("parse", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		err := fmt.Errorf("parse API returned %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", providers.Transient("parse", err)
		}
		return "", providers.Permanent("parse", err)
	}

	var parsed ParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", providers.Permanent("parse", err)
	}
	if parsed.Markdown == "" {
		return "", providers.Permanent("parse", fmt.Errorf("no markdown content in parse response"))
	}

	log.Info("Parse API returned markdown",
		zap.Int("characters", len(parsed.Markdown)),
		zap.Int("page_count", parsed.Metadata.PageCount))
	return parsed.Markdown, nil
}
