package voting

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tunevote/backend/internal/models"
)

// memRepo is an in-memory Repository. Transactions are serialized and
// rolled back from a snapshot on error, which is enough to model the
// all-or-nothing and uniqueness guarantees of the real store.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users        map[uuid.UUID]models.User
	songs        map[uuid.UUID]models.Song
	sessions     map[uuid.UUID]models.VotingSession
	sessionSongs map[uuid.UUID][]uuid.UUID
	votes        map[uuid.UUID]models.Vote

	failOn map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:        make(map[uuid.UUID]models.User),
		songs:        make(map[uuid.UUID]models.Song),
		sessions:     make(map[uuid.UUID]models.VotingSession),
		sessionSongs: make(map[uuid.UUID][]uuid.UUID),
		votes:        make(map[uuid.UUID]models.Vote),
		failOn:       make(map[string]error),
	}
}

func (r *memRepo) addUser(telegramID int64) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.users[id] = models.User{ID: id, TelegramID: telegramID}
	return id
}

func (r *memRepo) addSong(title string, active bool) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.songs[id] = models.Song{ID: id, Title: title, Artist: "artist " + title, IsActive: active, DisplayOrder: len(r.songs)}
	return id
}

func (r *memRepo) song(id uuid.UUID) models.Song {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.songs[id]
}

func (r *memRepo) activeSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.IsActive {
			n++
		}
	}
	return n
}

func (r *memRepo) voteCount(sessionID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.votes {
		if v.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (r *memRepo) fail(op string) error {
	return r.failOn[op]
}

type memSnapshot struct {
	songs        map[uuid.UUID]models.Song
	sessions     map[uuid.UUID]models.VotingSession
	sessionSongs map[uuid.UUID][]uuid.UUID
	votes        map[uuid.UUID]models.Vote
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memSnapshot{
		songs:        make(map[uuid.UUID]models.Song, len(r.songs)),
		sessions:     make(map[uuid.UUID]models.VotingSession, len(r.sessions)),
		sessionSongs: make(map[uuid.UUID][]uuid.UUID, len(r.sessionSongs)),
		votes:        make(map[uuid.UUID]models.Vote, len(r.votes)),
	}
	for k, v := range r.songs {
		s.songs[k] = v
	}
	for k, v := range r.sessions {
		s.sessions[k] = v
	}
	for k, v := range r.sessionSongs {
		s.sessionSongs[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range r.votes {
		s.votes[k] = v
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.songs, r.sessions, r.sessionSongs, r.votes = s.songs, s.sessions, s.sessionSongs, s.votes
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx Store) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) UserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *memRepo) SongsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Song
	for _, id := range ids {
		if s, ok := r.songs[id]; ok {
			out = append(out, s)
		}
	}
	sortSongs(out)
	return out, nil
}

func (r *memRepo) ActiveSongs(context.Context) ([]models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Song
	for _, s := range r.songs {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sortSongs(out)
	return out, nil
}

func (r *memRepo) SongForShare(_ context.Context, id uuid.UUID) (*models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.songs[id]
	if !ok {
		return nil, ErrSongNotFound
	}
	return &s, nil
}

func (r *memRepo) ActiveSession(context.Context) (*models.VotingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.IsActive {
			return r.withSongs(s), nil
		}
	}
	return nil, nil
}

func (r *memRepo) ActiveSessionForShare(ctx context.Context) (*models.VotingSession, error) {
	return r.ActiveSession(ctx)
}

func (r *memRepo) LatestSession(context.Context) (*models.VotingSession, error) {
	list := r.sortedSessions()
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (r *memRepo) SessionByID(_ context.Context, id uuid.UUID) (*models.VotingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r.withSongs(s), nil
}

func (r *memRepo) SessionForUpdate(ctx context.Context, id uuid.UUID) (*models.VotingSession, error) {
	return r.SessionByID(ctx, id)
}

func (r *memRepo) ListSessions(_ context.Context, offset, limit int) ([]models.VotingSession, int, error) {
	list := r.sortedSessions()
	total := len(list)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return list[offset:end], total, nil
}

func (r *memRepo) UserVote(_ context.Context, userID, sessionID uuid.UUID) (*models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.votes {
		if v.UserID == userID && v.SessionID == sessionID {
			return &v, nil
		}
	}
	return nil, nil
}

func (r *memRepo) SessionVotes(_ context.Context, sessionID uuid.UUID) ([]models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Vote
	for _, v := range r.votes {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) VoterTelegramIDs(_ context.Context, sessionID uuid.UUID) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, v := range r.votes {
		if v.SessionID != sessionID {
			continue
		}
		tg := r.users[v.UserID].TelegramID
		if _, ok := seen[tg]; ok || tg == 0 {
			continue
		}
		seen[tg] = struct{}{}
		ids = append(ids, tg)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memRepo) InsertVote(_ context.Context, v *models.Vote) error {
	if err := r.fail("InsertVote"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.votes {
		if existing.UserID == v.UserID && existing.SessionID == v.SessionID {
			return ErrAlreadyVoted
		}
	}
	r.votes[v.ID] = *v
	return nil
}

func (r *memRepo) CreateSession(_ context.Context, s *models.VotingSession) error {
	if err := r.fail("CreateSession"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.IsActive {
			return ErrSessionAlreadyActive
		}
	}
	stored := *s
	stored.SongIDs = nil
	r.sessions[s.ID] = stored
	return nil
}

func (r *memRepo) DeactivateAllSongs(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.songs {
		s.IsActive = false
		r.songs[id] = s
	}
	return nil
}

func (r *memRepo) SetSongActive(_ context.Context, id uuid.UUID, active bool) (*models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.songs[id]
	if !ok {
		return nil, ErrSongNotFound
	}
	s.IsActive = active
	r.songs[id] = s
	return &s, nil
}

func (r *memRepo) AttachSongs(_ context.Context, sessionID uuid.UUID, songIDs []uuid.UUID) error {
	if err := r.fail("AttachSongs"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range songIDs {
		s, ok := r.songs[id]
		if !ok {
			return ErrSongNotFound
		}
		s.IsActive = true
		r.songs[id] = s
	}
	r.sessionSongs[sessionID] = append([]uuid.UUID(nil), songIDs...)
	return nil
}

func (r *memRepo) CloseSession(_ context.Context, s *models.VotingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *s
	stored.SongIDs = nil
	r.sessions[s.ID] = stored
	return nil
}

func (r *memRepo) DeactivateSessionSongs(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.sessionSongs[sessionID] {
		s := r.songs[id]
		s.IsActive = false
		r.songs[id] = s
	}
	return nil
}

func (r *memRepo) DeleteSessionVotes(_ context.Context, sessionID uuid.UUID) error {
	if err := r.fail("DeleteSessionVotes"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.votes {
		if v.SessionID == sessionID {
			delete(r.votes, id)
		}
	}
	return nil
}

func (r *memRepo) withSongs(s models.VotingSession) *models.VotingSession {
	s.SongIDs = append([]uuid.UUID(nil), r.sessionSongs[s.ID]...)
	return &s
}

func (r *memRepo) sortedSessions() []models.VotingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]models.VotingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, *r.withSongs(s))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	return list
}

func sortSongs(list []models.Song) {
	sort.Slice(list, func(i, j int) bool { return list[i].DisplayOrder < list[j].DisplayOrder })
}

var errInjected = errors.New("injected store failure")

var _ Repository = (*memRepo)(nil)
