// internal/session/lifecycle.go
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/engine"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/room"
)

// Lifecycle reconciles socket churn with room membership: a dropped socket
// marks the seat disconnected without vacating it, and a reconnect restores
// the seat and resyncs state. The presence record is the source of truth
// for which room a user belongs to.
type Lifecycle struct {
	store    room.Snapshots
	locks    *room.KeyedMutex
	presence PresenceRegistry
	hub      *Hub
	cleanup  *Scheduler
	log      *logrus.Logger
}

func NewLifecycle(store room.Snapshots, locks *room.KeyedMutex, presence PresenceRegistry, hub *Hub, cleanup *Scheduler, log *logrus.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		locks:    locks,
		presence: presence,
		hub:      hub,
		cleanup:  cleanup,
		log:      log,
	}
}

// HandleDisconnect marks the user's seat as disconnected. The seat itself
// survives so a reconnect can resume mid-hand; when the room goes fully
// dark the cleanup timer is armed. Any failure along the way still clears
// the presence record rather than leaking it.
func (l *Lifecycle) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	roomID, err := l.presence.CurrentRoom(ctx, userID)
	if err != nil {
		l.log.WithError(err).Warnf("disconnect: failed to look up presence for user %s", userID)
	}
	if roomID == "" {
		// the presence record expires on its own TTL; the hub binding is
		// process-local and survives, so a long-running session still gets
		// its seat marked offline
		roomID = l.hub.BoundRoom(userID)
	}
	if roomID == "" {
		return
	}

	unlock := l.locks.Lock(roomID)
	defer unlock()

	snap, err := l.store.Get(ctx, roomID)
	if err != nil {
		l.log.WithError(err).Warnf("disconnect: failed to load room %s", roomID)
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return
	}
	if snap == nil {
		// room vanished while the user was attached; drop the stale record
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return
	}
	player, _ := snap.FindPlayer(userID)
	if player == nil {
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return
	}

	player.IsConnected = false
	if err := l.store.Put(ctx, snap); err != nil {
		l.log.WithError(err).Warnf("disconnect: failed to persist room %s", roomID)
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return
	}

	l.hub.NotifyRoom(roomID, "room:state_update", snap.PublicView(uuid.Nil))

	if snap.ConnectedCount() == 0 {
		l.cleanup.Schedule(ctx, roomID)
	}

	l.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"room_id":   roomID,
		"connected": snap.ConnectedCount(),
	}).Info("player disconnected")
}

// ReconnectInfo is the resync payload for a successful reconnect.
type ReconnectInfo struct {
	RoomID string               `json:"roomId"`
	Room   *models.RoomSnapshot `json:"room"`
	Game   *engine.Snapshot     `json:"gameState,omitempty"`
}

// HandleReconnect restores a returning user to their room. The requested
// room id wins over the presence record; a disagreement between the two is
// resolved by force-leaving the recorded room first. With no requested room
// and no record the call is an empty ack.
func (l *Lifecycle) HandleReconnect(ctx context.Context, userID uuid.UUID, requestedRoomID string) (*ReconnectInfo, error) {
	recorded, err := l.presence.CurrentRoom(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up presence for user %s: %w", userID, err)
	}
	roomID := requestedRoomID
	if roomID == "" {
		roomID = recorded
	}
	if roomID == "" {
		return &ReconnectInfo{}, nil
	}
	if recorded != "" && recorded != roomID {
		if err := l.presence.CheckAndHandleConflict(ctx, userID, roomID); err != nil {
			if errors.Is(err, room.ErrLiveHand) {
				return nil, Coded(models.CodeAlreadyInRoom, "still seated in a live hand in another room")
			}
			return nil, fmt.Errorf("failed to resolve presence conflict: %w", err)
		}
	}

	unlock := l.locks.Lock(roomID)
	defer unlock()

	snap, err := l.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap == nil {
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return nil, Coded(models.CodeRoomNotFound, "room no longer exists")
	}
	player, _ := snap.FindPlayer(userID)
	if player == nil {
		_ = l.presence.ClearCurrentRoom(ctx, userID)
		return nil, Coded(models.CodeRoomAccessDenied, "seat is no longer held")
	}

	player.IsConnected = true
	if err := l.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
	}
	if err := l.presence.SetCurrentRoom(ctx, userID, roomID); err != nil {
		l.log.WithError(err).Warnf("reconnect: failed to refresh presence for user %s", userID)
	}
	l.hub.BindRoom(userID, roomID)
	l.cleanup.Cancel(roomID)

	l.hub.NotifyRoom(roomID, "room:player_reconnected", map[string]any{
		"roomId":   roomID,
		"playerId": userID,
	})

	view := snap.PublicView(userID)
	info := &ReconnectInfo{RoomID: roomID, Room: view, Game: view.Game}

	l.log.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": roomID,
	}).Info("player reconnected")
	return info, nil
}
