package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/apperr"
	"github.com/tunevote/backend/internal/middleware"
	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/pkg/response"
)

// Client->server events.
const (
	EventJoin  = "join"
	EventCast  = "cast"
	EventLeave = "leave"
)

// Server->client events.
const (
	EventState             = "state"
	EventCastAck           = "cast:ack"
	EventError             = "error"
	EventResultsUpdated    = "results:updated"
	EventCandidatesUpdated = "candidates:updated"
	EventCandidateToggled  = "candidate:toggled"
	EventSessionStarted    = "session:started"
	EventSessionEnded      = "session:ended"
)

const (
	writeWait  = 10 * time.Second
	readLimit  = 4096
	sendBuffer = 256
	opTimeout  = 10 * time.Second
)

// Credentials are bearer tokens, not cookies, so cross-origin upgrades are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one authenticated WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID
	Role   models.Role

	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	// guarded by hub.mu
	rooms map[uuid.UUID]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, role models.Role, logger *zap.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		hub:    hub,
		conn:   conn,
		send:   make(chan WSMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

type joinRequest struct {
	SessionID *uuid.UUID `json:"session_id"`
}

type castRequest struct {
	CandidateID uuid.UUID `json:"candidate_id"`
}

type statePayload struct {
	SessionID  *uuid.UUID            `json:"session_id"`
	Session    *models.VotingSession `json:"session"`
	Candidates []models.Song         `json:"candidates"`
	Results    *models.Results       `json:"results"`
	MyVote     *models.Vote          `json:"my_vote"`
}

type castAckPayload struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	SessionID   uuid.UUID `json:"session_id"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ServeWs authenticates the handshake, upgrades the connection and runs the
// client loop. The token comes from ?token= or an Authorization bearer header.
// Unauthenticated requests are rejected before the upgrade.
func ServeWs(hub *Hub, verifier middleware.Verifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
		}
		if token == "" {
			response.Unauthorized(c, "token required")
			return
		}
		userID, role, err := verifier.Verify(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(hub, conn, userID, role, logger)
		hub.Register(client)
		go client.writePump()
		client.readPump(c.Request.Context())
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		switch msg.Event {
		case EventJoin:
			c.handleJoin(ctx, msg.Data)
		case EventCast:
			c.handleCast(ctx, msg.Data)
		case EventLeave:
			c.hub.LeaveAll(c)
		default:
			c.sendError(apperr.NewValidation("unknown event " + msg.Event))
		}
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var req joinRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError(apperr.NewValidation("invalid join payload"))
			return
		}
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var session *models.VotingSession
	var err error
	if req.SessionID != nil {
		session, err = c.hub.engine.GetSessionByID(ctx, *req.SessionID)
	} else {
		session, err = c.hub.engine.GetActiveSession(ctx)
	}
	if err != nil {
		c.sendError(err)
		return
	}

	candidates, err := c.hub.engine.ActiveCandidates(ctx)
	if err != nil {
		c.sendError(err)
		return
	}
	state := statePayload{Candidates: candidates}

	if session == nil {
		empty := models.Results{Songs: []models.SongResult{}}
		state.Results = &empty
		c.sendEvent(EventState, state)
		return
	}

	if err := c.hub.Join(c, session.ID); err != nil {
		c.logger.Warn("join room failed", zap.String("session_id", session.ID.String()), zap.Error(err))
		c.sendError(err)
		return
	}
	state.SessionID = &session.ID
	state.Session = session
	if state.Results, err = c.hub.engine.GetResults(ctx, &session.ID); err != nil {
		c.sendError(err)
		return
	}
	if state.MyVote, err = c.hub.engine.GetUserVote(ctx, c.UserID, &session.ID); err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventState, state)
}

func (c *Client) handleCast(ctx context.Context, data json.RawMessage) {
	var req castRequest
	if err := json.Unmarshal(data, &req); err != nil || req.CandidateID == uuid.Nil {
		c.sendError(apperr.NewValidation("candidate_id is required"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vote, err := c.hub.engine.CastVote(ctx, c.UserID, req.CandidateID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventCastAck, castAckPayload{CandidateID: vote.SongID, SessionID: vote.SessionID})
	c.hub.ScheduleResults(vote.SessionID)
}

func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(WSMessage{Event: event, Data: data})
}

// sendError reports err to this connection only.
func (c *Client) sendError(err error) {
	c.sendEvent(EventError, errorPayload{Message: apperr.Message(err), Code: apperr.KindOf(err).String()})
}

// enqueue never blocks; a slow client loses messages rather than stalling a broadcast.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Debug("client send buffer full", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
