package voting

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tunevote/backend/internal/models"
)

// Percentage returns votes/total*100 rounded to two decimals, zero when total is zero.
func Percentage(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(votes)/float64(total)*100*100) / 100
}

// ComputeResults aggregates votes into one row per voted song. Rows are
// ordered by votes descending, then by the earliest vote (oldest first), then
// by song id, so the first row is the winner under the documented tie-break.
func ComputeResults(sessionID uuid.UUID, votes []models.Vote, songs []models.Song) models.Results {
	byID := make(map[uuid.UUID]models.Song, len(songs))
	for _, s := range songs {
		byID[s.ID] = s
	}

	rows := make(map[uuid.UUID]*models.SongResult)
	for _, v := range votes {
		r, ok := rows[v.SongID]
		if !ok {
			song := byID[v.SongID]
			r = &models.SongResult{SongID: v.SongID, Title: song.Title, Artist: song.Artist, FirstVoteAt: v.CreatedAt}
			rows[v.SongID] = r
		}
		r.Votes++
		if v.CreatedAt.Before(r.FirstVoteAt) {
			r.FirstVoteAt = v.CreatedAt
		}
	}

	total := len(votes)
	out := make([]models.SongResult, 0, len(rows))
	for _, r := range rows {
		r.Percentage = Percentage(r.Votes, total)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if !a.FirstVoteAt.Equal(b.FirstVoteAt) {
			return a.FirstVoteAt.Before(b.FirstVoteAt)
		}
		return a.SongID.String() < b.SongID.String()
	})

	id := sessionID
	return models.Results{SessionID: &id, Songs: out, TotalVotes: total}
}

// EmptyResults is returned when no session is active.
func EmptyResults() models.Results {
	return models.Results{Songs: []models.SongResult{}}
}

// distinctVoters counts unique users in votes.
func distinctVoters(votes []models.Vote) int {
	seen := make(map[uuid.UUID]struct{}, len(votes))
	for _, v := range votes {
		seen[v.UserID] = struct{}{}
	}
	return len(seen)
}

func songIDsOf(votes []models.Vote) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, v := range votes {
		if _, ok := seen[v.SongID]; ok {
			continue
		}
		seen[v.SongID] = struct{}{}
		ids = append(ids, v.SongID)
	}
	return ids
}

func expiry(endedAt time.Time, window time.Duration) *time.Time {
	t := endedAt.Add(window)
	return &t
}
