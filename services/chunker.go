package services

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// pageMarkerPattern erkennt die Seiten-Marker im Markdown des Parse-Providers,
// z.B. <tr><td ...>Page:</td><td ...>3 of 51</td></tr>.
var pageMarkerPattern = regexp.MustCompile(`(?i)<tr><td[^>]*>Page:</td><td[^>]*>(\d+)\s+of\s+(\d+)</td></tr>`)

// partNumberPatterns sind die Heuristiken für Teilenummern-Kandidaten.
// Bekannt unscharf: interne Anker-IDs im Markdown sehen teils genauso aus.
// Die Treffer sind deshalb nur advisory und nie ranking-autoritativ.
var partNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2,}-\d{2,})\b`),
	regexp.MustCompile(`\b(\d{4,}-\d{2,})\b`),
	regexp.MustCompile(`(?i)P/N:?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)Part\s+(?:Number|No\.?):?\s*([A-Z0-9-]+)`),
}

// PageChunk ist ein zusammenhängender Seiteninhalt nach dem Chunking.
type PageChunk struct {
	// Page ist die lückenlose 1-basierte Seitennummer im Index.
	Page int
	// SourcePage ist die Seitennummer laut Marker im Quelldokument
	// (kann von Page abweichen, wenn leere Seiten übersprungen wurden).
	SourcePage int
	Content    string
}

// ContentChunker zerlegt geparstes Markdown in geordnete Seiten-Chunks.
type ContentChunker struct {
	Logger *zap.Logger

	// FallbackChunkSize ist die Chunk-Größe in Zeichen, wenn das
	// Dokument keine Seiten-Marker enthält.
	FallbackChunkSize int
}

// NewContentChunker erstellt einen Chunker mit 4000 Zeichen Fallback-Größe.
func NewContentChunker(logger *zap.Logger) *ContentChunker {
	return &ContentChunker{Logger: logger, FallbackChunkSize: 4000}
}

// ChunkByPage zerlegt den Inhalt entlang der Seiten-Marker. Ohne Marker
// greift die Fallback-Strategie mit fester Chunk-Größe. Die zurückgegebenen
// Chunks sind immer lückenlos von 1 an nummeriert.
func (c *ContentChunker) ChunkByPage(markdown string) []PageChunk {
	markers := pageMarkerPattern.FindAllStringSubmatchIndex(markdown, -1)
	if len(markers) == 0 {
		c.Logger.Warn("No page markers found, falling back to fixed-size chunking")
		return c.chunkFixedSize(markdown)
	}

	var chunks []PageChunk
	for i, marker := range markers {
		sourcePage, _ := strconv.Atoi(markdown[marker[2]:marker[3]])

		start := marker[1]
		end := len(markdown)
		if i < len(markers)-1 {
			end = markers[i+1][0]
		}

		content := strings.TrimSpace(markdown[start:end])
		if content == "" {
			c.Logger.Debug("Skipping empty page", zap.Int("source_page", sourcePage))
			continue
		}

		chunks = append(chunks, PageChunk{
			Page:       len(chunks) + 1,
			SourcePage: sourcePage,
			Content:    content,
		})
	}

	if len(chunks) == 0 {
		// Nur Marker, kein Inhalt: als ein Chunk behandeln.
		return []PageChunk{{Page: 1, SourcePage: 1, Content: strings.TrimSpace(markdown)}}
	}

	c.Logger.Info("Chunked content by page markers",
		zap.Int("chunks", len(chunks)), zap.Int("markers", len(markers)))
	return chunks
}

// chunkFixedSize zerlegt markerlosen Text in Chunks fester Größe, möglichst
// an Zeilengrenzen.
func (c *ContentChunker) chunkFixedSize(text string) []PageChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	size := c.FallbackChunkSize
	if size <= 0 {
		size = 4000
	}

	var chunks []PageChunk
	for len(text) > 0 {
		cut := len(text)
		if cut > size {
			cut = size
			// nie mitten in einer UTF-8-Rune schneiden
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, n := utf8.DecodeRuneInString(text)
				cut = n
			}
			// nicht mitten in einer Zeile schneiden, wenn vermeidbar
			if idx := strings.LastIndexByte(text[:cut], '\n'); idx > size/2 {
				cut = idx
			}
		}
		chunk := strings.TrimSpace(text[:cut])
		if chunk != "" {
			chunks = append(chunks, PageChunk{
				Page:       len(chunks) + 1,
				SourcePage: len(chunks) + 1,
				Content:    chunk,
			})
		}
		text = strings.TrimSpace(text[cut:])
	}
	return chunks
}

// ExtractPartNumbers sammelt Teilenummern-Kandidaten aus einem Seiteninhalt,
// dedupliziert und sortiert. Best-effort, siehe partNumberPatterns.
func (c *ContentChunker) ExtractPartNumbers(content string) []string {
	seen := map[string]struct{}{}
	for _, pattern := range partNumberPatterns {
		for _, match := range pattern.FindAllStringSubmatch(content, -1) {
			seen[strings.ToUpper(match[1])] = struct{}{}
		}
	}

	parts := make([]string, 0, len(seen))
	for p := range seen {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts
}
