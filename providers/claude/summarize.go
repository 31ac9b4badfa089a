package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"manual-hand/config"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// maxInputChars begrenzt die Eingabe pro Seite, um Kosten zu deckeln.
const maxInputChars = 100000

const systemPrompt = "You are a technical documentation summarizer for industrial equipment. " +
	"Create concise summaries that capture main topics, important part numbers or " +
	"specifications, and critical procedures or warnings. Keep the summary factual and technical."

// Fetcher implementiert das Summarizer-Interface über die Claude-Messages-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Claude-Summarizer.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "claude"
}

// Summarize fasst den Seiteninhalt in 2-4 Sätzen zusammen. Fehler hier sind
// für die Pipeline nie fatal; der Aufrufer loggt und fährt mit leerer
// Zusammenfassung fort.
func (f *Fetcher) Summarize(ctx context.Context, content string) (string, error) {
	if len(strings.TrimSpace(content)) < 50 {
		return "", fmt.Errorf("content too short to summarize")
	}
	if f.Config.ClaudeAPIKey == "" {
		return "", fmt.Errorf("claude api key not configured")
	}
	if len(content) > maxInputChars {
		f.Logger.Warn("Summarizer input truncated",
			zap.Int("original_chars", len(content)), zap.Int("max_chars", maxInputChars))
		content = content[:maxInputChars]
	}

	reqBody := messagesRequest{
		Model:     f.Config.ClaudeModel,
		MaxTokens: f.Config.ClaudeMaxTokens,
		System:    systemPrompt,
		Messages: []message{{
			Role: "user",
			Content: "Summarize the following technical document page in 2-4 concise sentences. " +
				"Focus on the main topics, key specifications, and important details:\n\n" + content,
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Config.ClaudeBaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", f.Config.ClaudeAPIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("summarizer returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Content) == 0 || strings.TrimSpace(parsed.Content[0].Text) == "" {
		return "", fmt.Errorf("empty summary in response")
	}

	summary := strings.TrimSpace(parsed.Content[0].Text)
	f.Logger.Debug("Generated summary",
		zap.Int("chars", len(summary)),
		zap.Int("input_tokens", parsed.Usage.InputTokens),
		zap.Int("output_tokens", parsed.Usage.OutputTokens))
	return summary, nil
}
