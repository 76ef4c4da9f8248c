package voting

import "github.com/tunevote/backend/internal/apperr"

var (
	ErrUserNotFound         = apperr.NewNotFound("user not found")
	ErrSongNotFound         = apperr.NewNotFound("song not found")
	ErrSessionNotFound      = apperr.NewNotFound("voting session not found")
	ErrNoActiveSession      = apperr.NewValidation("no active voting session")
	ErrSongInactive         = apperr.NewValidation("song is not available for voting")
	ErrNoCandidates         = apperr.NewValidation("at least one song is required")
	ErrTooManyCandidates    = apperr.NewValidation("too many songs for one session")
	ErrDuplicateCandidate   = apperr.NewValidation("song listed more than once")
	ErrSongNotInSession     = apperr.NewValidation("song is not a candidate of the active session")
	ErrAlreadyVoted         = apperr.NewConflict("you have already voted in this session")
	ErrSessionAlreadyActive = apperr.NewConflict("a voting session is already active")
	ErrSessionAlreadyEnded  = apperr.NewConflict("voting session has already ended")
)
