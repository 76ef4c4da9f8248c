package tally

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/pkg/redis"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, 5*time.Second, nil), mr
}

func TestIncrementAndCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	session, song := uuid.New(), uuid.New()

	n, err := s.Count(ctx, session, song)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.IncrementVote(ctx, session, song))
	require.NoError(t, s.IncrementVote(ctx, session, song))
	n, err = s.Count(ctx, session, song)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestResultsCacheRoundTripAndTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	session := uuid.New()

	_, ok, err := s.GetResults(ctx, session)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &models.Results{SessionID: &session, TotalVotes: 3, Songs: []models.SongResult{{SongID: uuid.New(), Votes: 3, Percentage: 100}}}
	stored, err := s.SetResults(ctx, session, 0, want)
	require.NoError(t, err)
	require.True(t, stored)

	got, ok, err := s.GetResults(ctx, session)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.TotalVotes)
	assert.Equal(t, 5*time.Second, mr.TTL(ResultsKey(session)))

	mr.FastForward(6 * time.Second)
	_, ok, err = s.GetResults(ctx, session)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateDeletesEntry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	session := uuid.New()

	_, err := s.SetResults(ctx, session, 0, &models.Results{SessionID: &session})
	require.NoError(t, err)
	require.NoError(t, s.InvalidateResults(ctx, session))
	assert.False(t, mr.Exists(ResultsKey(session)))

	gen, err := s.Generation(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestSetResultsRejectsStaleGeneration(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	session := uuid.New()

	gen, err := s.Generation(ctx, session)
	require.NoError(t, err)

	// A vote lands while the recompute is in flight.
	require.NoError(t, s.InvalidateResults(ctx, session))

	stored, err := s.SetResults(ctx, session, gen, &models.Results{SessionID: &session, TotalVotes: 1})
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(ResultsKey(session)))

	gen, err = s.Generation(ctx, session)
	require.NoError(t, err)
	stored, err = s.SetResults(ctx, session, gen, &models.Results{SessionID: &session, TotalVotes: 2})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	s, mr := newTestStore(t)
	session := uuid.New()
	require.NoError(t, mr.Set(ResultsKey(session), "{not json"))

	_, ok, err := s.GetResults(context.Background(), session)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearSessionLeavesOtherSessions(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	a, b, song := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, s.IncrementVote(ctx, a, song))
	require.NoError(t, s.IncrementVote(ctx, a, uuid.New()))
	require.NoError(t, s.IncrementVote(ctx, b, song))
	require.NoError(t, s.InvalidateResults(ctx, a))
	_, err := s.SetResults(ctx, a, 1, &models.Results{SessionID: &a})
	require.NoError(t, err)

	require.NoError(t, s.ClearSession(ctx, a))
	assert.False(t, mr.Exists(generationKey(a)))
	assert.False(t, mr.Exists(CounterKey(a, song)))
	assert.False(t, mr.Exists(ResultsKey(a)))
	assert.True(t, mr.Exists(CounterKey(b, song)))
}
