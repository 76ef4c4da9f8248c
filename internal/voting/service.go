// Package voting is the voting-session engine: session lifecycle, vote
// casting, result computation and winner selection.
package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/apperr"
	"github.com/tunevote/backend/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	notifyTimeout       = 10 * time.Second
)

// Options configures the engine.
type Options struct {
	MaxCandidates int
	DisplayWindow time.Duration
}

// Service implements the voting engine.
type Service struct {
	repo     Repository
	tally    Tally
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the voting engine. notifier may be nil.
func NewService(repo Repository, tally Tally, notifier Notifier, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	return &Service{repo: repo, tally: tally, notifier: notifier, opts: opts, logger: logger, now: time.Now}
}

// CastVote records userID's vote for songID in the active session. The
// (user, session) uniqueness constraint is the only authority on duplicates.
func (s *Service) CastVote(ctx context.Context, userID, songID uuid.UUID) (*models.Vote, error) {
	if _, err := s.repo.UserByID(ctx, userID); err != nil {
		return nil, err
	}

	var vote *models.Vote
	err := s.repo.InTx(ctx, func(tx Store) error {
		session, err := tx.ActiveSessionForShare(ctx)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNoActiveSession
		}
		song, err := tx.SongForShare(ctx, songID)
		if err != nil {
			return err
		}
		if !song.IsActive {
			return ErrSongInactive
		}
		// Advisory: gives a clean conflict without burning an insert.
		if prior, err := tx.UserVote(ctx, userID, session.ID); err != nil {
			return err
		} else if prior != nil {
			return ErrAlreadyVoted
		}
		vote = &models.Vote{ID: uuid.New(), UserID: userID, SongID: songID, SessionID: session.ID, CreatedAt: s.now().UTC()}
		return tx.InsertVote(ctx, vote)
	})
	if err != nil {
		return nil, internal(err, "cast vote")
	}

	// Invalidate before counting so a reader never sees a pre-vote cache hit
	// once this call has returned.
	if err := s.tally.InvalidateResults(ctx, vote.SessionID); err != nil {
		s.logger.Warn("invalidate results cache failed", zap.String("session_id", vote.SessionID.String()), zap.Error(err))
	}
	if err := s.tally.IncrementVote(ctx, vote.SessionID, songID); err != nil {
		s.logger.Warn("increment vote counter failed", zap.String("session_id", vote.SessionID.String()), zap.Error(err))
	}

	s.logger.Info("vote cast",
		zap.String("session_id", vote.SessionID.String()),
		zap.String("user_id", userID.String()),
		zap.String("song_id", songID.String()),
	)
	return vote, nil
}

// GetResults returns the tally of sessionID, or of the active session when
// sessionID is nil. With no active session the result is empty.
func (s *Service) GetResults(ctx context.Context, sessionID *uuid.UUID) (*models.Results, error) {
	var id uuid.UUID
	if sessionID == nil {
		active, err := s.repo.ActiveSession(ctx)
		if err != nil {
			return nil, internal(err, "load active session")
		}
		if active == nil {
			empty := EmptyResults()
			return &empty, nil
		}
		id = active.ID
	} else {
		if _, err := s.repo.SessionByID(ctx, *sessionID); err != nil {
			return nil, internal(err, "load session")
		}
		id = *sessionID
	}

	if cached, ok, err := s.tally.GetResults(ctx, id); err != nil {
		s.logger.Warn("read results cache failed", zap.String("session_id", id.String()), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	gen, genErr := s.tally.Generation(ctx, id)
	if genErr != nil {
		s.logger.Warn("read results generation failed", zap.String("session_id", id.String()), zap.Error(genErr))
	}

	results, err := s.computeResults(ctx, s.repo, id)
	if err != nil {
		return nil, internal(err, "compute results")
	}

	if genErr == nil {
		if _, err := s.tally.SetResults(ctx, id, gen, results); err != nil {
			s.logger.Warn("write results cache failed", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
	return results, nil
}

func (s *Service) computeResults(ctx context.Context, store Store, sessionID uuid.UUID) (*models.Results, error) {
	votes, err := store.SessionVotes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var songs []models.Song
	if ids := songIDsOf(votes); len(ids) > 0 {
		songs, err = store.SongsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	}
	r := ComputeResults(sessionID, votes, songs)
	return &r, nil
}

// StartSession opens a new session for exactly songIDs. Deactivating the
// previous candidates, creating the session and activating the new
// candidates commit together or not at all.
func (s *Service) StartSession(ctx context.Context, songIDs []uuid.UUID) (*models.VotingSession, error) {
	if len(songIDs) == 0 {
		return nil, ErrNoCandidates
	}
	if len(songIDs) > s.opts.MaxCandidates {
		return nil, ErrTooManyCandidates
	}
	seen := make(map[uuid.UUID]struct{}, len(songIDs))
	for _, id := range songIDs {
		if _, dup := seen[id]; dup {
			return nil, ErrDuplicateCandidate
		}
		seen[id] = struct{}{}
	}

	session := &models.VotingSession{ID: uuid.New(), IsActive: true, StartedAt: s.now().UTC()}
	err := s.repo.InTx(ctx, func(tx Store) error {
		active, err := tx.ActiveSession(ctx)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrSessionAlreadyActive
		}
		songs, err := tx.SongsByIDs(ctx, songIDs)
		if err != nil {
			return err
		}
		if len(songs) != len(songIDs) {
			return ErrSongNotFound
		}
		if err := tx.DeactivateAllSongs(ctx); err != nil {
			return err
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return tx.AttachSongs(ctx, session.ID, songIDs)
	})
	if err != nil {
		return nil, internal(err, "start session")
	}
	session.SongIDs = append([]uuid.UUID(nil), songIDs...)

	s.logger.Info("voting session started", zap.String("session_id", session.ID.String()), zap.Int("songs", len(songIDs)))
	return session, nil
}

// EndSession closes an active session. The final tally is computed under the
// session's row lock before any destructive statement, so a vote racing the
// close is either counted or rejected. Votes are deleted; the snapshot on the
// session row is the durable record.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID) (*models.EndResult, error) {
	var result models.EndResult
	err := s.repo.InTx(ctx, func(tx Store) error {
		session, err := tx.SessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !session.IsActive {
			return ErrSessionAlreadyEnded
		}

		votes, err := tx.SessionVotes(ctx, sessionID)
		if err != nil {
			return err
		}
		var candidates []models.Song
		if len(session.SongIDs) > 0 {
			candidates, err = tx.SongsByIDs(ctx, session.SongIDs)
			if err != nil {
				return err
			}
		}
		voters, err := tx.VoterTelegramIDs(ctx, sessionID)
		if err != nil {
			return err
		}

		final := ComputeResults(sessionID, votes, candidates)
		endedAt := s.now().UTC()
		session.IsActive = false
		session.EndedAt = &endedAt
		session.ExpiresAt = expiry(endedAt, s.opts.DisplayWindow)
		session.TotalVoters = distinctVoters(votes)
		session.WinningSongID = nil
		if len(final.Songs) > 0 {
			winner := final.Songs[0].SongID
			session.WinningSongID = &winner
			for i := range candidates {
				if candidates[i].ID == winner {
					song := candidates[i]
					song.IsActive = false
					result.WinningSong = &song
				}
			}
		}

		if err := tx.CloseSession(ctx, session); err != nil {
			return err
		}
		if err := tx.DeactivateSessionSongs(ctx, sessionID); err != nil {
			return err
		}
		if err := tx.DeleteSessionVotes(ctx, sessionID); err != nil {
			return err
		}

		result.Session = *session
		result.FinalResults = final
		result.TotalVoters = session.TotalVoters
		result.VoterTelegramIDs = voters
		return nil
	})
	if err != nil {
		return nil, internal(err, "end session")
	}

	if err := s.tally.ClearSession(ctx, sessionID); err != nil {
		s.logger.Warn("clear session tally failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}

	fields := []zap.Field{zap.String("session_id", sessionID.String()), zap.Int("total_voters", result.TotalVoters)}
	if result.Session.WinningSongID != nil {
		fields = append(fields, zap.String("winning_song_id", result.Session.WinningSongID.String()))
	}
	s.logger.Info("voting session ended", fields...)

	s.notifyWinner(&result)
	return &result, nil
}

// notifyWinner hands the result to the notifier without waiting for it.
func (s *Service) notifyWinner(result *models.EndResult) {
	if s.notifier == nil || len(result.VoterTelegramIDs) == 0 {
		return
	}
	snapshot := *result
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyWinner(ctx, &snapshot); err != nil {
			s.logger.Warn("winner notification failed", zap.String("session_id", snapshot.Session.ID.String()), zap.Error(err))
		}
	}()
}

// ToggleCandidate opens or closes one candidate of the active session for
// voting. Votes already cast for it are kept.
func (s *Service) ToggleCandidate(ctx context.Context, songID uuid.UUID, active bool) (*models.Song, error) {
	var song *models.Song
	err := s.repo.InTx(ctx, func(tx Store) error {
		session, err := tx.ActiveSessionForShare(ctx)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNoActiveSession
		}
		member := false
		for _, id := range session.SongIDs {
			if id == songID {
				member = true
				break
			}
		}
		if !member {
			return ErrSongNotInSession
		}
		song, err = tx.SetSongActive(ctx, songID, active)
		return err
	})
	if err != nil {
		return nil, internal(err, "toggle candidate")
	}
	s.logger.Info("candidate toggled", zap.String("song_id", songID.String()), zap.Bool("active", active))
	return song, nil
}

// GetUserVote returns the user's vote in sessionID (or the active session),
// nil if there is none.
func (s *Service) GetUserVote(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.Vote, error) {
	var id uuid.UUID
	if sessionID == nil {
		active, err := s.repo.ActiveSession(ctx)
		if err != nil {
			return nil, internal(err, "load active session")
		}
		if active == nil {
			return nil, nil
		}
		id = active.ID
	} else {
		id = *sessionID
	}
	v, err := s.repo.UserVote(ctx, userID, id)
	if err != nil {
		return nil, internal(err, "load user vote")
	}
	return v, nil
}

// GetActiveSession returns the active session or nil.
func (s *Service) GetActiveSession(ctx context.Context) (*models.VotingSession, error) {
	session, err := s.repo.ActiveSession(ctx)
	if err != nil {
		return nil, internal(err, "load active session")
	}
	return session, nil
}

// GetCurrentSession returns the active session, or the most recent ended
// session while it is still inside its display window, or nil.
func (s *Service) GetCurrentSession(ctx context.Context) (*models.VotingSession, error) {
	latest, err := s.repo.LatestSession(ctx)
	if err != nil {
		return nil, internal(err, "load latest session")
	}
	if latest == nil || !latest.Displayable(s.now()) {
		return nil, nil
	}
	return latest, nil
}

// GetSessionByID returns a session or ErrSessionNotFound.
func (s *Service) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error) {
	session, err := s.repo.SessionByID(ctx, id)
	if err != nil {
		return nil, internal(err, "load session")
	}
	return session, nil
}

// GetSessionHistory pages sessions by start time, newest first.
func (s *Service) GetSessionHistory(ctx context.Context, page, limit int) (*models.SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	items, total, err := s.repo.ListSessions(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, internal(err, "list sessions")
	}
	if items == nil {
		items = []models.VotingSession{}
	}
	return &models.SessionPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ActiveCandidates returns the songs open for voting, in display order.
func (s *Service) ActiveCandidates(ctx context.Context) ([]models.Song, error) {
	songs, err := s.repo.ActiveSongs(ctx)
	if err != nil {
		return nil, internal(err, "list active songs")
	}
	if songs == nil {
		songs = []models.Song{}
	}
	return songs, nil
}

// internal passes classified errors through and tags anything else as Internal.
func internal(err error, op string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(err, apperr.Internal, fmt.Sprintf("%s failed", op))
}
