package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/tunevote/backend/pkg/queue"
)

const dequeueWait = 5 * time.Second

// Sender delivers one chat message.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
}

// permanent is implemented by send errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

// NotificationProcessor processes winner notification jobs: one message per voter.
type NotificationProcessor struct {
	sender  Sender
	queue   *queue.Queue
	backoff time.Duration
	logger  *zap.Logger
}

// NewNotificationProcessor creates a notification processor.
func NewNotificationProcessor(sender Sender, q *queue.Queue, backoff time.Duration, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{sender: sender, queue: q, backoff: backoff, logger: logger}
}

// WinnerMessage renders the announcement sent to each voter.
func WinnerMessage(p queue.WinnerNotificationPayload) string {
	return fmt.Sprintf("🏆 Voting is over!\n\nWinner: <b>%s</b> by %s\nVotes: %d of %d voters",
		html.EscapeString(p.SongTitle), html.EscapeString(p.SongArtist), p.WinningVotes, p.TotalVoters)
}

// Process executes one job. When some recipients fail with a retryable error
// the job payload is narrowed to them so a retry does not message anyone twice.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeWinnerNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.WinnerNotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	text := WinnerMessage(payload)
	var failed []int64
	var lastErr error
	for _, chatID := range payload.TelegramIDs {
		if _, err := p.sender.SendMessage(ctx, chatID, text); err != nil {
			var perm permanent
			if errors.As(err, &perm) && perm.Permanent() {
				p.logger.Info("skip unreachable recipient", zap.Int64("chat_id", chatID), zap.Error(err))
				continue
			}
			failed = append(failed, chatID)
			lastErr = err
		}
	}

	if len(failed) == 0 {
		p.logger.Info("winner notification delivered",
			zap.String("job_id", job.ID),
			zap.String("session_id", payload.SessionID.String()),
			zap.Int("recipients", len(payload.TelegramIDs)),
		)
		return nil
	}

	payload.TelegramIDs = failed
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job.Payload = body
	return fmt.Errorf("%d recipients failed: %w", len(failed), lastErr)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
