package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manual-hand/models"
	"manual-hand/services"
)

type stubVoteStore struct {
	votes []*models.FeedbackVote
}

func (s *stubVoteStore) DocumentExists(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubVoteStore) InsertVote(_ context.Context, vote *models.FeedbackVote) (bool, error) {
	for _, existing := range s.votes {
		if existing.SessionID != nil && vote.SessionID != nil &&
			*existing.SessionID == *vote.SessionID &&
			existing.DocumentID == vote.DocumentID &&
			existing.Page == vote.Page {
			return false, nil
		}
	}
	s.votes = append(s.votes, vote)
	return true, nil
}

func (s *stubVoteStore) CountVotes(context.Context, string, int) (int64, int64, error) {
	return 0, 0, nil
}

func postFeedback(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/feedback/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestFeedbackDuplicateIsIdempotentNoOp(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &stubVoteStore{}
	svc := services.NewFeedbackService(store, time.Minute, zap.NewNop())
	router := gin.New()
	setupFeedbackRoutes(router, svc, zap.NewNop())

	body := `{
		"query": "valve maintenance",
		"document_id": "33333333-3333-3333-3333-333333333333",
		"page": 3,
		"rating": "positive",
		"session_id": "session-a"
	}`

	first := postFeedback(t, router, body)
	require.Equal(t, http.StatusCreated, first.Code)

	// Wiederholung derselben Session: Erfolgsantwort, kein neuer Datensatz.
	second := postFeedback(t, router, body)
	assert.Equal(t, http.StatusOK, second.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "already_recorded", resp["status"])
	assert.NotContains(t, resp, "error")

	assert.Len(t, store.votes, 1)
}

func TestFeedbackUnknownRatingRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := services.NewFeedbackService(&stubVoteStore{}, time.Minute, zap.NewNop())
	router := gin.New()
	setupFeedbackRoutes(router, svc, zap.NewNop())

	rec := postFeedback(t, router, `{
		"query": "q",
		"document_id": "33333333-3333-3333-3333-333333333333",
		"page": 1,
		"rating": "meh"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
