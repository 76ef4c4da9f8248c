// Package notify turns closed sessions into winner notification jobs.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/pkg/queue"
)

// Enqueuer is the job queue side used by Notifier.
type Enqueuer interface {
	EnqueueWinnerNotification(ctx context.Context, payload queue.WinnerNotificationPayload) (string, error)
}

// Notifier hands winner announcements to the background worker.
type Notifier struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewNotifier creates a notifier on q.
func NewNotifier(q Enqueuer, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{queue: q, logger: logger}
}

// NotifyWinner enqueues one job covering every voter of the session. Sessions
// without a winner or without voters produce no job.
func (n *Notifier) NotifyWinner(ctx context.Context, result *models.EndResult) error {
	if result.WinningSong == nil || len(result.VoterTelegramIDs) == 0 {
		return nil
	}
	payload := queue.WinnerNotificationPayload{
		SessionID:   result.Session.ID,
		SongTitle:   result.WinningSong.Title,
		SongArtist:  result.WinningSong.Artist,
		TotalVoters: result.TotalVoters,
		TelegramIDs: result.VoterTelegramIDs,
	}
	for _, row := range result.FinalResults.Songs {
		if row.SongID == result.WinningSong.ID {
			payload.WinningVotes = row.Votes
			break
		}
	}
	jobID, err := n.queue.EnqueueWinnerNotification(ctx, payload)
	if err != nil {
		return err
	}
	n.logger.Info("winner notification queued",
		zap.String("job_id", jobID),
		zap.String("session_id", result.Session.ID.String()),
		zap.Int("recipients", len(payload.TelegramIDs)),
	)
	return nil
}
