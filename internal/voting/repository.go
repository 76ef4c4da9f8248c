package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tunevote/backend/internal/models"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	constraintOneVote      = "votes_user_session_unique"
	constraintOneActive    = "voting_sessions_one_active"
	constraintVoteUserFKey = "votes_user_id_fkey"
)

const songColumns = `id, title, artist, COALESCE(cover_url, ''), is_active, display_order, created_at, updated_at`

const sessionColumns = `s.id, s.is_active, s.started_at, s.ended_at, s.total_voters, s.winning_song_id, s.expires_at,
	ARRAY(SELECT ss.song_id FROM voting_session_songs ss WHERE ss.session_id = s.id ORDER BY ss.song_id)`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the Session Repository backed by PostgreSQL.
type PostgresRepository struct {
	pgStore
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pgStore: pgStore{db: pool}, pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction; locking reads inside fn
// serialize against concurrent casts and session transitions.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Store) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(pgStore{db: tx})
	})
}

type pgStore struct {
	db querier
}

func (s pgStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	var telegramID *int64
	err := s.db.QueryRow(ctx, `SELECT id, telegram_id FROM users WHERE id = $1`, id).Scan(&u.ID, &telegramID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if telegramID != nil {
		u.TelegramID = *telegramID
	}
	return &u, nil
}

func (s pgStore) SongsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Song, error) {
	rows, err := s.db.Query(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ANY($1::uuid[]) ORDER BY display_order, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("select songs: %w", err)
	}
	return collectSongs(rows)
}

func (s pgStore) ActiveSongs(ctx context.Context) ([]models.Song, error) {
	rows, err := s.db.Query(ctx, `SELECT `+songColumns+` FROM songs WHERE is_active ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("select active songs: %w", err)
	}
	return collectSongs(rows)
}

func (s pgStore) SongForShare(ctx context.Context, id uuid.UUID) (*models.Song, error) {
	row := s.db.QueryRow(ctx, `SELECT `+songColumns+` FROM songs WHERE id = $1 FOR SHARE`, id)
	song, err := scanSong(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSongNotFound
	}
	return song, err
}

func (s pgStore) ActiveSession(ctx context.Context) (*models.VotingSession, error) {
	return s.optionalSession(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s WHERE s.is_active`)
}

func (s pgStore) ActiveSessionForShare(ctx context.Context) (*models.VotingSession, error) {
	return s.optionalSession(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s WHERE s.is_active FOR SHARE OF s`)
}

func (s pgStore) LatestSession(ctx context.Context) (*models.VotingSession, error) {
	return s.optionalSession(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s ORDER BY s.started_at DESC LIMIT 1`)
}

func (s pgStore) SessionByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error) {
	return s.requiredSession(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s WHERE s.id = $1`, id)
}

func (s pgStore) SessionForUpdate(ctx context.Context, id uuid.UUID) (*models.VotingSession, error) {
	return s.requiredSession(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s WHERE s.id = $1 FOR UPDATE OF s`, id)
}

func (s pgStore) ListSessions(ctx context.Context, offset, limit int) ([]models.VotingSession, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM voting_sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM voting_sessions s
		ORDER BY s.started_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()
	var list []models.VotingSession
	for rows.Next() {
		vs, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *vs)
	}
	return list, total, rows.Err()
}

func (s pgStore) UserVote(ctx context.Context, userID, sessionID uuid.UUID) (*models.Vote, error) {
	var v models.Vote
	err := s.db.QueryRow(ctx, `SELECT id, user_id, song_id, session_id, created_at FROM votes
		WHERE user_id = $1 AND session_id = $2`, userID, sessionID).
		Scan(&v.ID, &v.UserID, &v.SongID, &v.SessionID, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select vote: %w", err)
	}
	return &v, nil
}

func (s pgStore) SessionVotes(ctx context.Context, sessionID uuid.UUID) ([]models.Vote, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, song_id, session_id, created_at FROM votes
		WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select votes: %w", err)
	}
	defer rows.Close()
	var list []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.UserID, &v.SongID, &v.SessionID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (s pgStore) VoterTelegramIDs(ctx context.Context, sessionID uuid.UUID) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT u.telegram_id FROM votes v
		JOIN users u ON u.id = v.user_id
		WHERE v.session_id = $1 AND u.telegram_id IS NOT NULL
		ORDER BY u.telegram_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select voters: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s pgStore) InsertVote(ctx context.Context, v *models.Vote) error {
	_, err := s.db.Exec(ctx, `INSERT INTO votes (id, user_id, song_id, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`, v.ID, v.UserID, v.SongID, v.SessionID, v.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isConstraint(err, codeUniqueViolation, constraintOneVote):
		return ErrAlreadyVoted
	case isConstraint(err, codeForeignKeyViolation, constraintVoteUserFKey):
		return ErrUserNotFound
	default:
		return fmt.Errorf("insert vote: %w", err)
	}
}

func (s pgStore) CreateSession(ctx context.Context, vs *models.VotingSession) error {
	_, err := s.db.Exec(ctx, `INSERT INTO voting_sessions (id, is_active, started_at, total_voters)
		VALUES ($1, TRUE, $2, 0)`, vs.ID, vs.StartedAt)
	if isConstraint(err, codeUniqueViolation, constraintOneActive) {
		return ErrSessionAlreadyActive
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s pgStore) DeactivateAllSongs(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `UPDATE songs SET is_active = FALSE, updated_at = NOW() WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate songs: %w", err)
	}
	return nil
}

func (s pgStore) SetSongActive(ctx context.Context, id uuid.UUID, active bool) (*models.Song, error) {
	row := s.db.QueryRow(ctx, `UPDATE songs SET is_active = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+songColumns, id, active)
	song, err := scanSong(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSongNotFound
	}
	return song, err
}

func (s pgStore) AttachSongs(ctx context.Context, sessionID uuid.UUID, songIDs []uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO voting_session_songs (session_id, song_id)
		SELECT $1, unnest($2::uuid[])`, sessionID, songIDs); err != nil {
		return fmt.Errorf("attach songs: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE songs SET is_active = TRUE, updated_at = NOW() WHERE id = ANY($1::uuid[])`, songIDs)
	if err != nil {
		return fmt.Errorf("activate songs: %w", err)
	}
	if int(tag.RowsAffected()) != len(songIDs) {
		return ErrSongNotFound
	}
	return nil
}

func (s pgStore) CloseSession(ctx context.Context, vs *models.VotingSession) error {
	_, err := s.db.Exec(ctx, `UPDATE voting_sessions
		SET is_active = FALSE, ended_at = $2, expires_at = $3, total_voters = $4, winning_song_id = $5
		WHERE id = $1`, vs.ID, vs.EndedAt, vs.ExpiresAt, vs.TotalVoters, vs.WinningSongID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s pgStore) DeactivateSessionSongs(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE songs SET is_active = FALSE, updated_at = NOW()
		WHERE id IN (SELECT song_id FROM voting_session_songs WHERE session_id = $1)`, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session songs: %w", err)
	}
	return nil
}

func (s pgStore) DeleteSessionVotes(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM votes WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	return nil
}

func (s pgStore) optionalSession(ctx context.Context, query string, args ...any) (*models.VotingSession, error) {
	vs, err := scanSession(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return vs, err
}

func (s pgStore) requiredSession(ctx context.Context, query string, args ...any) (*models.VotingSession, error) {
	vs, err := scanSession(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return vs, err
}

func scanSession(row pgx.Row) (*models.VotingSession, error) {
	var vs models.VotingSession
	err := row.Scan(&vs.ID, &vs.IsActive, &vs.StartedAt, &vs.EndedAt, &vs.TotalVoters, &vs.WinningSongID, &vs.ExpiresAt, &vs.SongIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &vs, nil
}

func scanSong(row pgx.Row) (*models.Song, error) {
	var s models.Song
	err := row.Scan(&s.ID, &s.Title, &s.Artist, &s.CoverURL, &s.IsActive, &s.DisplayOrder, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan song: %w", err)
	}
	return &s, nil
}

func collectSongs(rows pgx.Rows) ([]models.Song, error) {
	defer rows.Close()
	var list []models.Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// isConstraint reports whether err is a Postgres error with the given
// SQLSTATE on the named constraint.
func isConstraint(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code && pgErr.ConstraintName == constraint
}

var _ Repository = (*PostgresRepository)(nil)
