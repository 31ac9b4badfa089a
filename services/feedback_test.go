package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manual-hand/models"
)

type fakeVoteStore struct {
	mu         sync.Mutex
	votes      []*models.FeedbackVote
	positive   int64
	negative   int64
	countCalls int
	countErr   error
	exists     bool
}

func (f *fakeVoteStore) DocumentExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeVoteStore) InsertVote(_ context.Context, vote *models.FeedbackVote) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Duplikat: gleiche Session, gleiches Dokument, gleiche Seite.
	for _, existing := range f.votes {
		if existing.SessionID != nil && vote.SessionID != nil &&
			*existing.SessionID == *vote.SessionID &&
			existing.DocumentID == vote.DocumentID &&
			existing.Page == vote.Page {
			return false, nil
		}
	}
	f.votes = append(f.votes, vote)
	return true, nil
}

func (f *fakeVoteStore) CountVotes(context.Context, string, int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, 0, f.countErr
	}
	return f.positive, f.negative, nil
}

const testDocID = "22222222-2222-2222-2222-222222222222"

func TestComputeBoost(t *testing.T) {
	assert.InDelta(t, 1.0, ComputeBoost(0, 0), 1e-9)
	assert.InDelta(t, 1.2, ComputeBoost(2, 0), 1e-9)
	assert.InDelta(t, 0.8, ComputeBoost(0, 2), 1e-9)
	assert.InDelta(t, 1.0, ComputeBoost(3, 3), 1e-9)

	// Klemmen an beiden Enden
	assert.InDelta(t, 3.0, ComputeBoost(25, 0), 1e-9)
	assert.InDelta(t, 3.0, ComputeBoost(1000, 0), 1e-9)
	assert.InDelta(t, 0.1, ComputeBoost(0, 25), 1e-9)
	assert.InDelta(t, 0.1, ComputeBoost(0, 1000), 1e-9)
}

func TestSubmitRejectsSessionDuplicates(t *testing.T) {
	store := &fakeVoteStore{exists: true}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	req := &models.FeedbackRequest{
		Query:      "valve maintenance",
		DocumentID: testDocID,
		Page:       3,
		Rating:     "positive",
		SessionID:  "session-a",
	}

	_, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateFeedback)

	// Andere Seite derselben Session ist kein Duplikat.
	other := *req
	other.Page = 4
	_, err = svc.Submit(context.Background(), &other)
	assert.NoError(t, err)
}

func TestSubmitAllowsAnonymousRepeats(t *testing.T) {
	store := &fakeVoteStore{exists: true}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	req := &models.FeedbackRequest{
		Query:      "valve maintenance",
		DocumentID: testDocID,
		Page:       3,
		Rating:     "negative",
	}

	for i := 0; i < 3; i++ {
		vote, err := svc.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, vote.SessionID)
	}
	assert.Len(t, store.votes, 3)
}

func TestSubmitUnknownDocument(t *testing.T) {
	store := &fakeVoteStore{exists: false}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	_, err := svc.Submit(context.Background(), &models.FeedbackRequest{
		Query:      "q",
		DocumentID: testDocID,
		Page:       1,
		Rating:     "positive",
	})
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestBoostCachesWithinTTL(t *testing.T) {
	store := &fakeVoteStore{exists: true, positive: 2}
	svc := NewFeedbackService(store, 5*time.Minute, zap.NewNop())

	now := time.Now()
	svc.now = func() time.Time { return now }

	assert.InDelta(t, 1.2, svc.Boost(context.Background(), testDocID, 1), 1e-9)
	assert.InDelta(t, 1.2, svc.Boost(context.Background(), testDocID, 1), 1e-9)
	assert.Equal(t, 1, store.countCalls)

	// Nach Ablauf der TTL wird neu gezählt.
	now = now.Add(5*time.Minute + time.Second)
	store.positive = 5
	assert.InDelta(t, 1.5, svc.Boost(context.Background(), testDocID, 1), 1e-9)
	assert.Equal(t, 2, store.countCalls)
}

func TestBoostInvalidatedBySubmit(t *testing.T) {
	store := &fakeVoteStore{exists: true, positive: 1}
	svc := NewFeedbackService(store, time.Hour, zap.NewNop())

	assert.InDelta(t, 1.1, svc.Boost(context.Background(), testDocID, 7), 1e-9)
	assert.Equal(t, 1, store.countCalls)

	_, err := svc.Submit(context.Background(), &models.FeedbackRequest{
		Query:      "q",
		DocumentID: testDocID,
		Page:       7,
		Rating:     "positive",
	})
	require.NoError(t, err)

	store.positive = 2
	assert.InDelta(t, 1.2, svc.Boost(context.Background(), testDocID, 7), 1e-9)
	assert.Equal(t, 2, store.countCalls)
}

func TestBoostFallsBackToNeutralOnStoreError(t *testing.T) {
	store := &fakeVoteStore{exists: true, countErr: errors.New("db down")}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	assert.InDelta(t, 1.0, svc.Boost(context.Background(), testDocID, 1), 1e-9)
}

func TestBoostSingleFlightOnConcurrentMisses(t *testing.T) {
	store := &fakeVoteStore{exists: true, positive: 4}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.InDelta(t, 1.4, svc.Boost(context.Background(), testDocID, 1), 1e-9)
		}()
	}
	close(start)
	wg.Wait()

	// Parallele Misses auf denselben Schlüssel lösen höchstens eine
	// Handvoll Store-Abfragen aus, nicht eine pro Goroutine.
	assert.LessOrEqual(t, store.countCalls, 3)
}

func TestStats(t *testing.T) {
	store := &fakeVoteStore{exists: true, positive: 6, negative: 2}
	svc := NewFeedbackService(store, time.Minute, zap.NewNop())

	stats, err := svc.Stats(context.Background(), testDocID, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.PositiveCount)
	assert.Equal(t, int64(2), stats.NegativeCount)
	assert.Equal(t, int64(8), stats.TotalCount)
	assert.InDelta(t, 1.4, stats.BoostScore, 1e-9)
}
