package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"manual-hand/models"
)

// ErrDuplicateFeedback: diese Session hat die Seite bereits bewertet.
var ErrDuplicateFeedback = errors.New("feedback already recorded for this session and page")

const (
	boostPerVote = 0.1
	boostFloor   = 0.1
	boostCeiling = 3.0
	boostNeutral = 1.0
)

// VoteStore ist der Vertrag des Feedback-Service zum Metadaten-Store.
type VoteStore interface {
	DocumentExists(ctx context.Context, id string) (bool, error)
	InsertVote(ctx context.Context, vote *models.FeedbackVote) (inserted bool, err error)
	CountVotes(ctx context.Context, documentID string, page int) (positive, negative int64, err error)
}

// ComputeBoost bildet Stimmen auf den Ranking-Multiplikator ab:
// 1.0 + 0.1 pro Netto-Stimme, geklemmt auf [0.1, 3.0]. Eine Seite kann
// also nie unter ein Zehntel fallen oder über das Dreifache steigen.
func ComputeBoost(positive, negative int64) float64 {
	boost := boostNeutral + boostPerVote*float64(positive-negative)
	if boost < boostFloor {
		return boostFloor
	}
	if boost > boostCeiling {
		return boostCeiling
	}
	return boost
}

type boostEntry struct {
	boost   float64
	expires time.Time
}

// FeedbackService nimmt Bewertungen entgegen und liefert gecachte
// Boost-Faktoren für das Ranking. Der Cache hält Einträge für die
// konfigurierte TTL; parallele Misses auf denselben Schlüssel werden
// per singleflight zu einer einzigen Store-Abfrage zusammengelegt.
type FeedbackService struct {
	Store  VoteStore
	Logger *zap.Logger

	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]boostEntry
	group singleflight.Group
}

// NewFeedbackService erstellt den Service mit der übergebenen Cache-TTL.
func NewFeedbackService(store VoteStore, ttl time.Duration, logger *zap.Logger) *FeedbackService {
	return &FeedbackService{
		Store:  store,
		Logger: logger,
		ttl:    ttl,
		now:    time.Now,
		cache:  map[string]boostEntry{},
	}
}

// Submit speichert eine Bewertung. Doppelte Bewertungen derselben Session
// für dieselbe (Dokument, Seite)-Kombination werden mit ErrDuplicateFeedback
// abgelehnt; anonyme Bewertungen (ohne session_id) sind immer zulässig.
func (s *FeedbackService) Submit(ctx context.Context, req *models.FeedbackRequest) (*models.FeedbackVote, error) {
	exists, err := s.Store.DocumentExists(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrDocumentNotFound
	}

	vote := &models.FeedbackVote{
		ID:         uuid.NewString(),
		Query:      req.Query,
		DocumentID: req.DocumentID,
		Page:       req.Page,
		Rating:     models.FeedbackRating(req.Rating),
	}
	if req.SessionID != "" {
		vote.SessionID = &req.SessionID
	}

	inserted, err := s.Store.InsertVote(ctx, vote)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrDuplicateFeedback
	}

	// Neue Stimme macht den gecachten Boost sofort ungültig.
	s.invalidate(req.DocumentID, req.Page)

	s.Logger.Info("Feedback recorded",
		zap.String("document_id", req.DocumentID),
		zap.Int("page", req.Page),
		zap.String("rating", req.Rating))
	return vote, nil
}

// Boost liefert den Ranking-Multiplikator einer Dokumentseite. Bei
// Store-Fehlern fällt der Wert auf neutral zurück: die Suche darf an
// Feedback-Problemen nie scheitern.
func (s *FeedbackService) Boost(ctx context.Context, documentID string, page int) float64 {
	key := boostKey(documentID, page)

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expires) {
		return entry.boost
	}

	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		positive, negative, err := s.Store.CountVotes(ctx, documentID, page)
		if err != nil {
			return nil, err
		}
		boost := ComputeBoost(positive, negative)

		s.mu.Lock()
		s.cache[key] = boostEntry{boost: boost, expires: s.now().Add(s.ttl)}
		s.mu.Unlock()
		return boost, nil
	})
	if err != nil {
		s.Logger.Warn("Boost lookup failed, falling back to neutral",
			zap.String("document_id", documentID), zap.Int("page", page), zap.Error(err))
		return boostNeutral
	}
	return value.(float64)
}

// Stats liefert die aggregierten Bewertungen einer Dokumentseite.
func (s *FeedbackService) Stats(ctx context.Context, documentID string, page int) (*models.FeedbackStats, error) {
	positive, negative, err := s.Store.CountVotes(ctx, documentID, page)
	if err != nil {
		return nil, err
	}
	return &models.FeedbackStats{
		DocumentID:    documentID,
		Page:          page,
		PositiveCount: positive,
		NegativeCount: negative,
		TotalCount:    positive + negative,
		BoostScore:    ComputeBoost(positive, negative),
	}, nil
}

func (s *FeedbackService) invalidate(documentID string, page int) {
	s.mu.Lock()
	delete(s.cache, boostKey(documentID, page))
	s.mu.Unlock()
}

func boostKey(documentID string, page int) string {
	return fmt.Sprintf("%s:%d", documentID, page)
}
