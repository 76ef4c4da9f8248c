package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxRetries int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, maxRetries, nil), mr
}

func TestEnqueueDequeueWinnerNotification(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()
	payload := WinnerNotificationPayload{
		SessionID:    uuid.New(),
		SongTitle:    "Song",
		SongArtist:   "Band",
		WinningVotes: 2,
		TotalVoters:  3,
		TelegramIDs:  []int64{1, 2, 3},
	}

	id, err := q.EnqueueWinnerNotification(ctx, payload)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobTypeWinnerNotification, job.Type)
	assert.Zero(t, job.Attempt)

	var got WinnerNotificationPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	job, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueSkipsGarbage(t *testing.T) {
	q, mr := newTestQueue(t, 3)
	_, err := mr.Lpush(QueueNotifications, "{not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryThenDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()
	job := &Job{ID: "j1", Type: JobTypeWinnerNotification, Payload: json.RawMessage(`{}`)}

	require.NoError(t, q.Retry(ctx, job))
	n, err := q.Len(ctx, QueueNotifications)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Attempt)

	require.NoError(t, q.Retry(ctx, again))
	n, err = q.Len(ctx, QueueNotifications)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = q.Len(ctx, QueueDLQ)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
