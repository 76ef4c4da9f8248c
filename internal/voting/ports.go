package voting

import (
	"context"

	"github.com/google/uuid"

	"github.com/tunevote/backend/internal/models"
)

// Store is the set of queries the engine runs against the authoritative
// store, either directly or inside a transaction.
type Store interface {
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SongsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Song, error)
	ActiveSongs(ctx context.Context) ([]models.Song, error)

	// ActiveSession returns nil when no session is active.
	ActiveSession(ctx context.Context) (*models.VotingSession, error)
	LatestSession(ctx context.Context) (*models.VotingSession, error)
	SessionByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error)
	ListSessions(ctx context.Context, offset, limit int) ([]models.VotingSession, int, error)

	// UserVote returns nil when the user has not voted in the session.
	UserVote(ctx context.Context, userID, sessionID uuid.UUID) (*models.Vote, error)
	SessionVotes(ctx context.Context, sessionID uuid.UUID) ([]models.Vote, error)

	// Locking reads. Outside a transaction they behave as plain reads.
	ActiveSessionForShare(ctx context.Context) (*models.VotingSession, error)
	SessionForUpdate(ctx context.Context, id uuid.UUID) (*models.VotingSession, error)
	SongForShare(ctx context.Context, id uuid.UUID) (*models.Song, error)

	// InsertVote returns ErrAlreadyVoted when (user, session) already has a row.
	InsertVote(ctx context.Context, v *models.Vote) error
	// CreateSession returns ErrSessionAlreadyActive when another active row exists.
	CreateSession(ctx context.Context, s *models.VotingSession) error
	DeactivateAllSongs(ctx context.Context) error
	// SetSongActive returns ErrSongNotFound when the song does not exist.
	SetSongActive(ctx context.Context, id uuid.UUID, active bool) (*models.Song, error)
	AttachSongs(ctx context.Context, sessionID uuid.UUID, songIDs []uuid.UUID) error
	CloseSession(ctx context.Context, s *models.VotingSession) error
	DeactivateSessionSongs(ctx context.Context, sessionID uuid.UUID) error
	DeleteSessionVotes(ctx context.Context, sessionID uuid.UUID) error
	VoterTelegramIDs(ctx context.Context, sessionID uuid.UUID) ([]int64, error)
}

// Repository is a Store that can run a function atomically. If fn returns an
// error every statement it issued is rolled back.
type Repository interface {
	Store
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Tally is the shared counter and results cache layer.
type Tally interface {
	IncrementVote(ctx context.Context, sessionID, songID uuid.UUID) error
	Generation(ctx context.Context, sessionID uuid.UUID) (int64, error)
	InvalidateResults(ctx context.Context, sessionID uuid.UUID) error
	GetResults(ctx context.Context, sessionID uuid.UUID) (*models.Results, bool, error)
	SetResults(ctx context.Context, sessionID uuid.UUID, generation int64, results *models.Results) (bool, error)
	ClearSession(ctx context.Context, sessionID uuid.UUID) error
}

// Notifier tells voters who won. Calls are best-effort.
type Notifier interface {
	NotifyWinner(ctx context.Context, result *models.EndResult) error
}
