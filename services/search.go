package services

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"manual-hand/index"
	"manual-hand/models"
)

// searchFieldBoosts sind die Feldgewichte der Volltextsuche. Teilenummern
// wiegen am schwersten, der Dateiname dient nur als schwaches Signal.
var searchFieldBoosts = []string{
	"part_numbers^3",
	"machine_model^2.5",
	"content^2",
	"summary^1.5",
	"filename.text^1.2",
}

const snippetLength = 200

// Searcher ist der Vertrag des Search-Service zur Suchmaschine.
type Searcher interface {
	Search(ctx context.Context, body map[string]interface{}, from, size int) (*index.Result, error)
}

// Booster liefert den Feedback-Multiplikator einer Dokumentseite.
type Booster interface {
	Boost(ctx context.Context, documentID string, page int) float64
}

// SearchService baut die Query, führt sie aus und verrechnet die
// Textrelevanz mit den Feedback-Boosts zum endgültigen Ranking.
type SearchService struct {
	Engine Searcher
	Boosts Booster
	Logger *zap.Logger
}

// NewSearchService erstellt den Search-Service.
func NewSearchService(engine Searcher, boosts Booster, logger *zap.Logger) *SearchService {
	return &SearchService{Engine: engine, Boosts: boosts, Logger: logger}
}

// Search führt eine normalisierte Suchanfrage aus.
func (s *SearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	req.Normalize()

	body := s.buildQuery(req)
	from := (req.Page - 1) * req.PageSize

	res, err := s.Engine.Search(ctx, body, from, req.PageSize)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, s.toResult(ctx, hit, req))
	}

	// Boosts können die Reihenfolge der Suchmaschine umwerfen; bei
	// Gleichstand bleibt deren Reihenfolge stabil erhalten.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.Logger.Info("Search executed",
		zap.String("query", req.Query),
		zap.Int("total", res.Total),
		zap.Int("returned", len(results)),
		zap.Int("took_ms", res.Took))

	return &models.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Total:    res.Total,
		Page:     req.Page,
		PageSize: req.PageSize,
		TookMs:   res.Took,
	}, nil
}

// buildQuery baut die Query-DSL: Volltext über die gewichteten Felder,
// dazu die AND-verknüpften Filter. Der READY-Filter ist nicht abwählbar,
// halb verarbeitete Dokumente sind nie sichtbar.
func (s *SearchService) buildQuery(req *models.SearchRequest) map[string]interface{} {
	match := map[string]interface{}{
		"query":  req.Query,
		"fields": searchFieldBoosts,
		"type":   "best_fields",
	}
	if req.EnableFuzzy {
		match["fuzziness"] = "AUTO"
	}

	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"processing_status": string(models.StatusReady)}},
	}
	if f := req.Filters; f != nil {
		if f.Category != "" {
			filters = append(filters, map[string]interface{}{
				"term": map[string]interface{}{"category": f.Category},
			})
		}
		if f.MachineModel != "" {
			filters = append(filters, map[string]interface{}{
				"term": map[string]interface{}{"machine_model": f.MachineModel},
			})
		}
		if len(f.PartNumbers) > 0 {
			filters = append(filters, map[string]interface{}{
				"terms": map[string]interface{}{"part_numbers": f.PartNumbers},
			})
		}
		if f.DateFrom != nil || f.DateTo != nil {
			bounds := map[string]interface{}{}
			if f.DateFrom != nil {
				bounds["gte"] = f.DateFrom
			}
			if f.DateTo != nil {
				bounds["lte"] = f.DateTo
			}
			filters = append(filters, map[string]interface{}{
				"range": map[string]interface{}{"upload_date": bounds},
			})
		}
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   []map[string]interface{}{{"multi_match": match}},
				"filter": filters,
			},
		},
		"sort": []map[string]interface{}{
			{"_score": map[string]interface{}{"order": "desc"}},
			{"upload_date": map[string]interface{}{"order": "desc"}},
		},
	}

	if req.Highlights() {
		contentHighlight := map[string]interface{}{
			"fragment_size":       150,
			"number_of_fragments": 3,
		}
		if req.IncludeContent {
			// ganze Seite markiert zurückgeben statt Fragmente
			contentHighlight = map[string]interface{}{"number_of_fragments": 0}
		}
		body["highlight"] = map[string]interface{}{
			"pre_tags":  []string{"<mark>"},
			"post_tags": []string{"</mark>"},
			"fields": map[string]interface{}{
				"content": contentHighlight,
				"summary": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 1,
				},
			},
		}
	}

	return body
}

// toResult verrechnet einen Treffer mit seinem Feedback-Boost.
func (s *SearchService) toResult(ctx context.Context, hit index.Hit, req *models.SearchRequest) models.SearchResult {
	boost := s.Boosts.Boost(ctx, hit.Source.DocumentID, hit.Source.Page)

	result := models.SearchResult{
		DocumentID:   hit.Source.DocumentID,
		Filename:     hit.Source.Filename,
		Page:         hit.Source.Page,
		Category:     hit.Source.Category,
		MachineModel: hit.Source.MachineModel,
		PartNumbers:  hit.Source.PartNumbers,
		Score:        hit.Score * boost,
		Snippet:      buildSnippet(hit),
		Summary:      hit.Source.Summary,
		UploadDate:   hit.Source.UploadDate,
	}

	if req.IncludeContent {
		result.Content = hit.Source.Content
		if marked := hit.Highlight["content"]; len(marked) > 0 {
			result.HighlightedContent = strings.Join(marked, "\n")
		}
	}
	return result
}

// buildSnippet wählt den Vorschautext: bevorzugt das markierte
// Summary-Fragment, dann ein Content-Fragment, sonst der Seitenanfang.
func buildSnippet(hit index.Hit) string {
	if frags := hit.Highlight["summary"]; len(frags) > 0 {
		return frags[0]
	}
	if frags := hit.Highlight["content"]; len(frags) > 0 {
		return truncate(frags[0], snippetLength)
	}
	return truncate(hit.Source.Content, snippetLength)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	// nie mitten in einer UTF-8-Rune schneiden
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	head := s[:cut]
	if idx := strings.LastIndexByte(head, ' '); idx > max/2 {
		head = head[:idx]
	}
	return head + "…"
}
