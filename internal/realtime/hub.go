// Package realtime is the WebSocket gateway: per-session rooms, debounced
// result broadcasts and cross-process fan-out over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunevote/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second

	publishTimeout   = 5 * time.Second
	recomputeTimeout = 10 * time.Second
)

// Engine is the part of the voting engine the gateway drives.
type Engine interface {
	CastVote(ctx context.Context, userID, songID uuid.UUID) (*models.Vote, error)
	GetResults(ctx context.Context, sessionID *uuid.UUID) (*models.Results, error)
	GetActiveSession(ctx context.Context) (*models.VotingSession, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.VotingSession, error)
	ActiveCandidates(ctx context.Context) ([]models.Song, error)
	GetUserVote(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID) (*models.Vote, error)
}

// Bus carries events between processes.
type Bus interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
	Subscribe(channel string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub tracks connections and their session rooms. Every broadcast goes
// through the bus when one is configured, and local delivery happens only
// from the bus subscription, so each connection gets an event exactly once
// no matter which process produced it.
type Hub struct {
	clients map[string]*Client
	// sessionID -> clientID -> client
	rooms     map[uuid.UUID]map[string]*Client
	subs      map[uuid.UUID]func()
	globalSub func()
	mu        sync.RWMutex

	engine   Engine
	bus      Bus
	debounce *Debouncer
	logger   *zap.Logger
}

// NewHub creates a hub. bus may be nil for a single-process deployment.
func NewHub(engine Engine, bus Bus, debounceWindow time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		engine:   engine,
		bus:      bus,
		debounce: NewDebouncer(debounceWindow),
		logger:   logger,
	}
}

// Start subscribes to the global channel and tears the hub down when ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	if h.bus != nil {
		cancel, err := h.bus.Subscribe(GlobalChannel, func(event string, payload []byte) {
			h.broadcastAll(WSMessage{Event: event, Data: payload})
		})
		if err != nil {
			return fmt.Errorf("subscribe global channel: %w", err)
		}
		h.mu.Lock()
		h.globalSub = cancel
		h.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		h.Close()
	}()
	return nil
}

// Close cancels pending broadcasts and subscriptions and disconnects clients.
func (h *Hub) Close() {
	h.debounce.Stop()
	h.mu.Lock()
	if h.globalSub != nil {
		h.globalSub()
		h.globalSub = nil
	}
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// Register adds an authenticated connection. It receives global events but no
// room events until it joins.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a connection from the hub and from every room. Safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	h.leaveAllLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

// Join adds c to the room of sessionID. The first local member starts the
// room's bus subscription.
func (h *Hub) Join(c *Client, sessionID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sessionID] == nil {
		if h.bus != nil {
			cancel, err := h.bus.Subscribe(RoomChannel(sessionID), func(event string, payload []byte) {
				h.broadcastRoom(sessionID, WSMessage{Event: event, Data: payload})
			})
			if err != nil {
				return fmt.Errorf("subscribe room: %w", err)
			}
			h.subs[sessionID] = cancel
		}
		h.rooms[sessionID] = make(map[string]*Client)
	}
	h.rooms[sessionID][c.ID] = c
	c.rooms[sessionID] = struct{}{}
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("session_id", sessionID.String()))
	return nil
}

// LeaveAll removes c from every room it joined.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveAllLocked(c)
}

func (h *Hub) leaveAllLocked(c *Client) {
	for sessionID := range c.rooms {
		delete(c.rooms, sessionID)
		m, ok := h.rooms[sessionID]
		if !ok {
			continue
		}
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, sessionID)
			if cancel, ok := h.subs[sessionID]; ok {
				cancel()
				delete(h.subs, sessionID)
			}
		}
	}
}

// RoomSize returns the number of local connections in a session room.
func (h *Hub) RoomSize(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// ClientCount returns the number of local connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ScheduleResults coalesces result broadcasts for a session: triggers within
// the debounce window produce one recompute and one results:updated.
func (h *Hub) ScheduleResults(sessionID uuid.UUID) {
	h.debounce.Trigger(sessionID, func() { h.publishResults(sessionID) })
}

func (h *Hub) publishResults(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), recomputeTimeout)
	defer cancel()
	results, err := h.engine.GetResults(ctx, &sessionID)
	if err != nil {
		h.logger.Warn("recompute results failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	h.publishRoom(sessionID, EventResultsUpdated, results)
}

// SessionStarted announces a new session to every connection.
func (h *Hub) SessionStarted(session *models.VotingSession, candidates []models.Song) {
	h.publishGlobal(EventSessionStarted, sessionStartedPayload{Session: session, Candidates: candidates})
}

// SessionEnded announces the final result to every connection. A results
// broadcast still pending for the session is dropped.
func (h *Hub) SessionEnded(result *models.EndResult) {
	h.debounce.Cancel(result.Session.ID)
	h.publishGlobal(EventSessionEnded, result)
}

// CandidatesUpdated announces the new active candidate list.
func (h *Hub) CandidatesUpdated(candidates []models.Song) {
	h.publishGlobal(EventCandidatesUpdated, candidatesPayload{Candidates: candidates})
}

// CandidateToggled announces a single candidate's new state.
func (h *Hub) CandidateToggled(song *models.Song) {
	h.publishGlobal(EventCandidateToggled, song)
}

func (h *Hub) publishRoom(sessionID uuid.UUID, event string, payload interface{}) {
	h.publish(RoomChannel(sessionID), event, payload, func(msg WSMessage) { h.broadcastRoom(sessionID, msg) })
}

func (h *Hub) publishGlobal(event string, payload interface{}) {
	h.publish(GlobalChannel, event, payload, h.broadcastAll)
}

// publish routes through the bus. Without a bus, or when the bus is down, the
// event is delivered to local connections only.
func (h *Hub) publish(channel, event string, payload interface{}, local func(WSMessage)) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := h.bus.Publish(ctx, channel, event, data)
		if err == nil {
			return
		}
		h.logger.Warn("publish event failed, delivering locally", zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
	local(WSMessage{Event: event, Data: data})
}

func (h *Hub) broadcastRoom(sessionID uuid.UUID, msg WSMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[sessionID]))
	for _, c := range h.rooms[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.enqueue(msg)
	}
}

func (h *Hub) broadcastAll(msg WSMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.enqueue(msg)
	}
}

type sessionStartedPayload struct {
	Session    *models.VotingSession `json:"session"`
	Candidates []models.Song         `json:"candidates"`
}

type candidatesPayload struct {
	Candidates []models.Song `json:"candidates"`
}
