package voting

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/middleware"
	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/pkg/response"
)

// Broadcaster pushes engine changes to real-time clients.
type Broadcaster interface {
	ScheduleResults(sessionID uuid.UUID)
	SessionStarted(session *models.VotingSession, candidates []models.Song)
	SessionEnded(result *models.EndResult)
	CandidatesUpdated(candidates []models.Song)
	CandidateToggled(song *models.Song)
}

// CastRequest is the body for POST /voting/votes.
type CastRequest struct {
	CandidateID uuid.UUID `json:"candidate_id" binding:"required"`
}

// StartRequest is the body for POST /admin/voting/sessions.
type StartRequest struct {
	CandidateIDs []uuid.UUID `json:"candidate_ids" binding:"required"`
}

// ToggleRequest is the body for PATCH /admin/voting/candidates/:id.
type ToggleRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// Handler handles voting HTTP endpoints.
type Handler struct {
	svc    *Service
	bcast  Broadcaster
	logger *zap.Logger
}

// NewHandler creates a voting handler.
func NewHandler(svc *Service, bcast Broadcaster, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, bcast: bcast, logger: logger}
}

// Register mounts the user-facing routes on r and the admin routes on admin.
func (h *Handler) Register(r gin.IRoutes, admin gin.IRoutes) {
	r.GET("/voting/session", h.ActiveSession)
	r.GET("/voting/session/current", h.CurrentSession)
	r.GET("/voting/sessions/:id", h.SessionByID)
	r.GET("/voting/candidates", h.Candidates)
	r.GET("/voting/results", h.Results)
	r.GET("/voting/me", h.MyVote)
	r.POST("/voting/votes", h.Cast)

	admin.POST("/admin/voting/sessions", h.Start)
	admin.POST("/admin/voting/sessions/:id/end", h.End)
	admin.GET("/admin/voting/sessions", h.History)
	admin.PATCH("/admin/voting/candidates/:id", h.Toggle)
}

// Cast handles POST /voting/votes.
func (h *Handler) Cast(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req CastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "candidate_id is required")
		return
	}
	vote, err := h.svc.CastVote(c.Request.Context(), userID, req.CandidateID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.bcast.ScheduleResults(vote.SessionID)
	response.Created(c, vote)
}

// ActiveSession handles GET /voting/session.
func (h *Handler) ActiveSession(c *gin.Context) {
	session, err := h.svc.GetActiveSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if session == nil {
		response.NotFound(c, ErrNoActiveSession.Message)
		return
	}
	response.OK(c, session)
}

// CurrentSession handles GET /voting/session/current.
func (h *Handler) CurrentSession(c *gin.Context) {
	session, err := h.svc.GetCurrentSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"session": session})
}

// SessionByID handles GET /voting/sessions/:id.
func (h *Handler) SessionByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	session, err := h.svc.GetSessionByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Candidates handles GET /voting/candidates.
func (h *Handler) Candidates(c *gin.Context) {
	songs, err := h.svc.ActiveCandidates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, songs)
}

// Results handles GET /voting/results?session_id=.
func (h *Handler) Results(c *gin.Context) {
	var sessionID *uuid.UUID
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		sessionID = &id
	}
	results, err := h.svc.GetResults(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, results)
}

// MyVote handles GET /voting/me.
func (h *Handler) MyVote(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	vote, err := h.svc.GetUserVote(c.Request.Context(), userID, nil)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"vote": vote})
}

// Start handles POST /admin/voting/sessions.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "candidate_ids is required")
		return
	}
	session, err := h.svc.StartSession(c.Request.Context(), req.CandidateIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	candidates, err := h.svc.ActiveCandidates(c.Request.Context())
	if err != nil {
		h.logger.Warn("load candidates for broadcast failed", zap.Error(err))
		candidates = []models.Song{}
	}
	h.bcast.SessionStarted(session, candidates)
	h.bcast.CandidatesUpdated(candidates)
	response.Created(c, session)
}

// End handles POST /admin/voting/sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	result, err := h.svc.EndSession(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.bcast.SessionEnded(result)
	h.bcast.CandidatesUpdated([]models.Song{})
	response.OK(c, result)
}

// Toggle handles PATCH /admin/voting/candidates/:id.
func (h *Handler) Toggle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid candidate id")
		return
	}
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "is_active is required")
		return
	}
	song, err := h.svc.ToggleCandidate(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.bcast.CandidateToggled(song)
	if candidates, err := h.svc.ActiveCandidates(c.Request.Context()); err != nil {
		h.logger.Warn("load candidates for broadcast failed", zap.Error(err))
	} else {
		h.bcast.CandidatesUpdated(candidates)
	}
	response.OK(c, song)
}

// History handles GET /admin/voting/sessions?page=&limit=.
func (h *Handler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	p, err := h.svc.GetSessionHistory(c.Request.Context(), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}
