// internal/session/hub.go
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/models"
)

// Conn is one user's live connection. The websocket handler owns the read
// side; everything else reaches the client through Out. OnReplaced, when
// set, runs just before the hub cancels this connection in favour of a
// newer one for the same user; the handler uses it to close the socket
// with a distinct close code.
type Conn struct {
	UserID     uuid.UUID
	Username   string
	Out        chan models.OutEvent
	Cancel     context.CancelFunc
	OnReplaced func()

	log *logrus.Logger
}

// NewConn builds a connection with a buffered outbound channel.
func NewConn(userID uuid.UUID, username string, cancel context.CancelFunc, log *logrus.Logger) *Conn {
	return &Conn{
		UserID:   userID,
		Username: username,
		Out:      make(chan models.OutEvent, 32),
		Cancel:   cancel,
		log:      log,
	}
}

// Send pushes an event onto the outbound channel without ever blocking the
// caller. A full or closed channel drops the message; the write pump and
// the reconnect path recover from that.
func (c *Conn) Send(event string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warnf("hub: send on closed channel for user %s (%s)", c.UserID, event)
		}
	}()
	select {
	case c.Out <- models.OutEvent{Type: event, Data: payload}:
	default:
		c.log.Warnf("hub: out channel for user %s full, dropped %s", c.UserID, event)
	}
}

// SendError is a convenience for the error event shape.
func (c *Conn) SendError(code, message string) {
	c.Send("error", models.Fail(code, message))
}

// Hub is the process-wide registry of live connections and their room
// bindings. Broadcast fan-out runs on a shared worker pool and never blocks
// the caller.
type Hub struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]*Conn
	rooms  map[string]map[uuid.UUID]*Conn
	roomOf map[uuid.UUID]string

	pool *ants.Pool
	log  *logrus.Logger
}

// NewHub builds the hub and its fan-out pool.
func NewHub(log *logrus.Logger) (*Hub, error) {
	pool, err := ants.NewPool(256, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Hub{
		conns:  make(map[uuid.UUID]*Conn),
		rooms:  make(map[string]map[uuid.UUID]*Conn),
		roomOf: make(map[uuid.UUID]string),
		pool:   pool,
		log:    log,
	}, nil
}

// Register attaches a connection, replacing (and cancelling) any previous
// connection for the same user.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	old := h.conns[c.UserID]
	h.conns[c.UserID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		h.log.Infof("hub: user %s reconnected, replacing previous connection", c.UserID)
		if old.OnReplaced != nil {
			old.OnReplaced()
		}
		if old.Cancel != nil {
			old.Cancel()
		}
	}
}

// IsCurrent reports whether c is still the user's registered connection.
func (h *Hub) IsCurrent(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[c.UserID] == c
}

// Unregister detaches a connection if it is still the user's current one.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.UserID] != c {
		return
	}
	delete(h.conns, c.UserID)
	h.unbindLocked(c.UserID)
}

// BindRoom associates the user's connection with a room.
func (h *Hub) BindRoom(userID uuid.UUID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(userID)
	c, ok := h.conns[userID]
	if !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uuid.UUID]*Conn)
	}
	h.rooms[roomID][userID] = c
	h.roomOf[userID] = roomID
}

// UnbindRoom drops the user's room association.
func (h *Hub) UnbindRoom(userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(userID)
}

func (h *Hub) unbindLocked(userID uuid.UUID) {
	roomID, ok := h.roomOf[userID]
	if !ok {
		return
	}
	delete(h.roomOf, userID)
	if members := h.rooms[roomID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BoundRoom returns the room the user's connection is bound to, or "".
// Survives presence-record expiry, so the disconnect path can fall back
// to it.
func (h *Hub) BoundRoom(userID uuid.UUID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomOf[userID]
}

// RoomConnCount returns how many live connections are bound to the room.
func (h *Hub) RoomConnCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// NotifyUser delivers an event to one user, if connected.
func (h *Hub) NotifyUser(userID uuid.UUID, event string, payload any) {
	h.mu.Lock()
	c, ok := h.conns[userID]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.dispatch(c, event, payload)
}

// NotifyRoom fans an event out to every connection bound to the room.
func (h *Hub) NotifyRoom(roomID string, event string, payload any) {
	h.mu.Lock()
	members := make([]*Conn, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		h.dispatch(c, event, payload)
	}
}

// dispatch hands the send to the worker pool; if the pool is saturated the
// send happens inline (Send itself never blocks).
func (h *Hub) dispatch(c *Conn, event string, payload any) {
	if err := h.pool.Submit(func() { c.Send(event, payload) }); err != nil {
		c.Send(event, payload)
	}
}

// DisconnectRoom cancels every connection bound to the room and drops the
// bindings. Used when a room is destroyed.
func (h *Hub) DisconnectRoom(roomID string) {
	h.mu.Lock()
	members := make([]*Conn, 0, len(h.rooms[roomID]))
	for userID, c := range h.rooms[roomID] {
		members = append(members, c)
		delete(h.roomOf, userID)
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, c := range members {
		if c.Cancel != nil {
			c.Cancel()
		}
	}
}

// Shutdown releases the fan-out pool.
func (h *Hub) Shutdown() {
	h.pool.Release()
}
