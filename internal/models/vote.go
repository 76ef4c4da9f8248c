package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is one user's choice within one session. Unique on (UserID, SessionID).
type Vote struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SongID    uuid.UUID `json:"song_id"`
	SessionID uuid.UUID `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SongResult is one row of a session tally.
type SongResult struct {
	SongID      uuid.UUID `json:"song_id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Votes       int       `json:"votes"`
	Percentage  float64   `json:"percentage"`
	FirstVoteAt time.Time `json:"first_vote_at"`
}

// Results is the tally of a session, rows sorted by votes descending.
type Results struct {
	SessionID  *uuid.UUID   `json:"session_id"`
	Songs      []SongResult `json:"songs"`
	TotalVotes int          `json:"total_votes"`
}

// EndResult is returned when a session is closed.
type EndResult struct {
	Session      VotingSession `json:"session"`
	FinalResults Results       `json:"final_results"`
	TotalVoters  int           `json:"total_voters"`
	WinningSong  *Song         `json:"winning_song,omitempty"`
	// VoterTelegramIDs are the distinct external identities of everyone who voted.
	VoterTelegramIDs []int64 `json:"-"`
}
