// internal/models/room.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrsh/pokerroom/internal/engine"
)

// RoomStatus tracks the lifecycle phase of a room.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "WAITING"
	RoomPlaying RoomStatus = "PLAYING"
	RoomEnded   RoomStatus = "ENDED"
)

// RoomPlayer is one seat in a room. Position is a contiguous 0-based index
// that is reassigned whenever membership changes.
type RoomPlayer struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	Chips       int64     `json:"chips"`
	IsReady     bool      `json:"isReady"`
	IsOwner     bool      `json:"isOwner"`
	Position    int       `json:"position"`
	IsConnected bool      `json:"isConnected"`
	LastAction  string    `json:"lastAction,omitempty"`
}

// RoomSnapshot is the authoritative per-room record stored in the cache.
// CurrentPlayerCount must equal len(Players) at every persisted point.
type RoomSnapshot struct {
	ID                 string           `json:"id"`
	OwnerID            uuid.UUID        `json:"ownerId"`
	Players            []*RoomPlayer    `json:"players"`
	Status             RoomStatus       `json:"status"`
	MaxPlayers         int              `json:"maxPlayers"`
	CurrentPlayerCount int              `json:"currentPlayerCount"`
	HasPassword        bool             `json:"hasPassword"`
	BigBlind           int64            `json:"bigBlind"`
	SmallBlind         int64            `json:"smallBlind"`
	GameStarted        bool             `json:"gameStarted"`
	Game               *engine.Snapshot `json:"gameState,omitempty"`
}

// FindPlayer returns the player with the given id and its index, or (nil, -1).
func (r *RoomSnapshot) FindPlayer(userID uuid.UUID) (*RoomPlayer, int) {
	for i, p := range r.Players {
		if p.ID == userID {
			return p, i
		}
	}
	return nil, -1
}

// AddPlayer appends a player at the next position and renumbers the seats.
func (r *RoomSnapshot) AddPlayer(p *RoomPlayer) {
	r.Players = append(r.Players, p)
	if len(r.Players) == 1 {
		p.IsOwner = true
		r.OwnerID = p.ID
	}
	r.Normalize()
}

// RemovePlayer removes the player with the given id, renumbers the remaining
// seats and transfers ownership to the new first player if the leaver owned
// the room. It returns true if the player was present.
func (r *RoomSnapshot) RemovePlayer(userID uuid.UUID) bool {
	_, idx := r.FindPlayer(userID)
	if idx < 0 {
		return false
	}
	wasOwner := r.Players[idx].IsOwner
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	if wasOwner && len(r.Players) > 0 {
		for _, p := range r.Players {
			p.IsOwner = false
		}
		r.Players[0].IsOwner = true
		r.OwnerID = r.Players[0].ID
	}
	r.Normalize()
	return true
}

// Normalize re-establishes the count and position invariants.
func (r *RoomSnapshot) Normalize() {
	for i, p := range r.Players {
		p.Position = i
	}
	r.CurrentPlayerCount = len(r.Players)
}

// ConnectedCount returns how many seated players hold a live connection.
func (r *RoomSnapshot) ConnectedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// IsFull reports whether the room has no spare capacity.
func (r *RoomSnapshot) IsFull() bool {
	return r.MaxPlayers > 0 && len(r.Players) >= r.MaxPlayers
}

// ResetAfterHand returns the room to the waiting state with all ready flags
// cleared. The embedded game snapshot is dropped.
func (r *RoomSnapshot) ResetAfterHand() {
	r.Status = RoomWaiting
	r.GameStarted = false
	r.Game = nil
	for _, p := range r.Players {
		p.IsReady = false
		p.LastAction = ""
	}
}

// PublicView returns a copy of the snapshot safe to put on the wire: the
// embedded game state is stripped of the deck and of hole cards the viewer
// is not entitled to see. uuid.Nil as viewer hides every hole card.
func (r *RoomSnapshot) PublicView(viewer uuid.UUID) *RoomSnapshot {
	cp := *r
	cp.Players = make([]*RoomPlayer, len(r.Players))
	for i, p := range r.Players {
		pc := *p
		cp.Players[i] = &pc
	}
	if r.Game != nil {
		cp.Game = r.Game.Public(viewer)
	}
	return &cp
}

// Room is the relational-store record a snapshot is rehydrated from on a
// cold cache.
type Room struct {
	ID           string
	OwnerID      uuid.UUID
	Name         string
	MaxPlayers   int
	SmallBlind   int64
	BigBlind     int64
	PasswordHash string
	Status       string
	CreatedAt    time.Time
}
