// Package tally holds derived, reconstructable voting state in Redis: per-song
// counters and a short-lived results cache.
package tally

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/pkg/redis"
)

const (
	counterPrefix = "voting:count:"
	resultsPrefix = "voting:results:"
	genPrefix     = "voting:gen:"
	opTimeout     = 2 * time.Second
)

// Store is the Redis-backed tally store.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a tally store whose results cache entries live for ttl.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// CounterKey is the counter key for one song in one session.
func CounterKey(sessionID, songID uuid.UUID) string {
	return counterPrefix + sessionID.String() + ":" + songID.String()
}

// setIfGeneration writes the results entry only when the generation has not
// moved since the caller read it.
var setIfGeneration = goredis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if gen == false then gen = "0" end
if gen ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// ResultsKey is the results cache key for a session.
func ResultsKey(sessionID uuid.UUID) string {
	return resultsPrefix + sessionID.String()
}

// IncrementVote bumps the session+song counter.
func (s *Store) IncrementVote(ctx context.Context, sessionID, songID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.Incr(ctx, CounterKey(sessionID, songID)).Err(); err != nil {
		return fmt.Errorf("incr counter: %w", err)
	}
	return nil
}

// Count returns the counter for a session+song, zero when absent.
func (s *Store) Count(ctx context.Context, sessionID, songID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := s.client.Get(ctx, CounterKey(sessionID, songID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

func generationKey(sessionID uuid.UUID) string {
	return genPrefix + sessionID.String()
}

// Generation returns the invalidation generation of a session's results.
// Read it before recomputing and pass it to SetResults.
func (s *Store) Generation(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := s.client.Get(ctx, generationKey(sessionID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return n, nil
}

// InvalidateResults deletes the cached results for a session and bumps its
// generation so an in-flight recompute cannot repopulate a stale value.
func (s *Store) InvalidateResults(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, ResultsKey(sessionID))
		pipe.Incr(ctx, generationKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate results: %w", err)
	}
	return nil
}

// GetResults returns cached results. ok is false on a cache miss.
func (s *Store) GetResults(ctx context.Context, sessionID uuid.UUID) (results *models.Results, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := s.client.Get(ctx, ResultsKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get results: %w", err)
	}
	var r models.Results
	if err := json.Unmarshal(raw, &r); err != nil {
		// A corrupt entry is treated as a miss; the caller recomputes.
		s.logger.Warn("discarding corrupt results cache entry", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, false, nil
	}
	return &r, true, nil
}

// SetResults caches results for the configured TTL if generation is still
// current. stored is false when an invalidation happened in between.
func (s *Store) SetResults(ctx context.Context, sessionID uuid.UUID, generation int64, results *models.Results) (stored bool, err error) {
	body, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("marshal results: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	keys := []string{ResultsKey(sessionID), generationKey(sessionID)}
	n, err := setIfGeneration.Run(ctx, s.client, keys, strconv.FormatInt(generation, 10), body, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set results: %w", err)
	}
	return n == 1, nil
}

// ClearSession removes every counter and the results entry of a session.
func (s *Store) ClearSession(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := s.client.DeletePattern(ctx, counterPrefix+sessionID.String()+":*"); err != nil {
		return err
	}
	return s.client.Del(ctx, ResultsKey(sessionID), generationKey(sessionID)).Err()
}
