package models

import (
	"time"

	"github.com/google/uuid"
)

// VotingSession is one voting round. At most one session is active at a time;
// ended sessions are kept as history.
type VotingSession struct {
	ID            uuid.UUID   `json:"id"`
	IsActive      bool        `json:"is_active"`
	StartedAt     time.Time   `json:"started_at"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	TotalVoters   int         `json:"total_voters"`
	WinningSongID *uuid.UUID  `json:"winning_song_id,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"` // end of the post-close display window
	SongIDs       []uuid.UUID `json:"song_ids,omitempty"`
}

// Displayable reports whether the session should still be shown as current.
func (s *VotingSession) Displayable(now time.Time) bool {
	if s.IsActive {
		return true
	}
	return s.ExpiresAt != nil && now.Before(*s.ExpiresAt)
}

// SessionPage is one page of session history.
type SessionPage struct {
	Items []VotingSession `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}
