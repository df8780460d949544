// internal/session/rooms.go
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/auth"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/room"
)

const (
	quickStartMaxPlayers = 6
	quickStartSmallBlind = 10
	quickStartBigBlind   = 20
)

// RoomService implements room membership: joining, leaving and the
// quick-start matchmaker. Every mutation of a snapshot happens under the
// room's keyed lock and is persisted before any broadcast goes out.
type RoomService struct {
	store    room.Snapshots
	locks    *room.KeyedMutex
	presence PresenceRegistry
	db       Database
	hub      *Hub
	cleanup  *Scheduler
	log      *logrus.Logger
}

func NewRoomService(store room.Snapshots, locks *room.KeyedMutex, presence PresenceRegistry, db Database, hub *Hub, cleanup *Scheduler, log *logrus.Logger) *RoomService {
	return &RoomService{
		store:    store,
		locks:    locks,
		presence: presence,
		db:       db,
		hub:      hub,
		cleanup:  cleanup,
		log:      log,
	}
}

// Join places a user in a room. Presence conflicts (a stale membership in
// another room) are resolved first by force-leaving the old room; joining
// a room the user is already in succeeds idempotently.
func (s *RoomService) Join(ctx context.Context, userID uuid.UUID, roomID string, password *string) (*models.RoomSnapshot, error) {
	if err := s.presence.CheckAndHandleConflict(ctx, userID, roomID); err != nil {
		if errors.Is(err, room.ErrLiveHand) {
			return nil, Coded(models.CodeAlreadyInRoom, "already seated in a live hand in another room")
		}
		return nil, fmt.Errorf("failed to resolve presence conflict: %w", err)
	}

	unlock := s.locks.Lock(roomID)
	defer unlock()

	snap, err := s.loadOrRehydrate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, Coded(models.CodeRoomNotFound, "room does not exist")
	}

	if existing, _ := snap.FindPlayer(userID); existing != nil {
		// rejoin of a member, e.g. a second tab; mark connected and give
		// the presence record a fresh lease
		existing.IsConnected = true
		if err := s.store.Put(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
		}
		if err := s.presence.SetCurrentRoom(ctx, userID, roomID); err != nil {
			s.log.WithError(err).Warnf("failed to refresh presence for user %s", userID)
		}
		s.hub.BindRoom(userID, roomID)
		s.cleanup.Cancel(roomID)
		return snap.PublicView(userID), nil
	}

	if snap.IsFull() {
		return nil, Coded(models.CodeRoomFull, "room is full")
	}
	if snap.HasPassword {
		if err := s.checkPassword(ctx, roomID, password); err != nil {
			return nil, err
		}
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return nil, Coded(models.CodeAuthenticationFailed, "unknown user")
	}

	snap.AddPlayer(&models.RoomPlayer{
		ID:          userID,
		Username:    user.Username,
		Avatar:      user.Avatar,
		Chips:       user.Chips,
		IsConnected: true,
	})
	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
	}
	if err := s.presence.SetCurrentRoom(ctx, userID, roomID); err != nil {
		s.log.WithError(err).Warnf("failed to record presence for user %s", userID)
	}
	s.hub.BindRoom(userID, roomID)
	s.cleanup.Cancel(roomID)

	s.hub.NotifyRoom(roomID, "room:player_joined", map[string]any{
		"roomId": roomID,
		"player": snap.Players[len(snap.Players)-1],
	})
	s.hub.NotifyRoom(roomID, "room:state_update", snap.PublicView(uuid.Nil))

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": roomID,
		"players": snap.CurrentPlayerCount,
	}).Info("player joined room")
	return snap.PublicView(userID), nil
}

// checkPassword verifies the supplied room password against the relational
// row's hash. The snapshot only carries the HasPassword flag.
func (s *RoomService) checkPassword(ctx context.Context, roomID string, password *string) error {
	if password == nil || *password == "" {
		return Coded(models.CodeInvalidPassword, "password required")
	}
	row, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room row %s: %w", roomID, err)
	}
	if row == nil || row.PasswordHash == "" {
		return Coded(models.CodeRoomNotFound, "room does not exist")
	}
	ok, err := auth.VerifyRoomPassword(*password, row.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify room password: %w", err)
	}
	if !ok {
		return Coded(models.CodeInvalidPassword, "wrong password")
	}
	return nil
}

// loadOrRehydrate reads the cached snapshot, falling back to the relational
// row when the cache entry expired. Rehydrated rooms come back empty in
// WAITING state.
func (s *RoomService) loadOrRehydrate(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap != nil {
		return snap, nil
	}

	row, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room row %s: %w", roomID, err)
	}
	if row == nil {
		return nil, nil
	}
	snap = &models.RoomSnapshot{
		ID:          row.ID,
		OwnerID:     row.OwnerID,
		Status:      models.RoomWaiting,
		MaxPlayers:  row.MaxPlayers,
		HasPassword: row.PasswordHash != "",
		SmallBlind:  row.SmallBlind,
		BigBlind:    row.BigBlind,
	}
	s.log.Infof("rehydrated room %s from relational store", roomID)
	return snap, nil
}

// Leave removes the user from their room. The last player out deletes the
// room entirely; otherwise ownership transfers and the remaining players
// are notified.
func (s *RoomService) Leave(ctx context.Context, userID uuid.UUID, roomID string) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap == nil {
		// room already gone; just drop the presence record
		_ = s.presence.ClearCurrentRoom(ctx, userID)
		s.hub.UnbindRoom(userID)
		return nil
	}
	if !snap.RemovePlayer(userID) {
		return Coded(models.CodePlayerNotInRoom, "player is not in this room")
	}

	if len(snap.Players) == 0 {
		if err := s.store.Delete(ctx, roomID); err != nil {
			return fmt.Errorf("failed to delete room %s: %w", roomID, err)
		}
		if _, err := s.db.DeleteRoomIfWaiting(ctx, roomID); err != nil {
			s.log.WithError(err).Warnf("failed to delete room %s row", roomID)
		}
		s.cleanup.Cancel(roomID)
	} else {
		if err := s.store.Put(ctx, snap); err != nil {
			return fmt.Errorf("failed to persist room %s: %w", roomID, err)
		}
	}

	if err := s.presence.ClearCurrentRoom(ctx, userID); err != nil {
		s.log.WithError(err).Warnf("failed to clear presence for user %s", userID)
	}
	s.hub.UnbindRoom(userID)

	if len(snap.Players) > 0 {
		s.hub.NotifyRoom(roomID, "room:player_left", map[string]any{
			"roomId":   roomID,
			"playerId": userID,
		})
		s.hub.NotifyRoom(roomID, "room:state_update", snap.PublicView(uuid.Nil))
	}

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": roomID,
	}).Info("player left room")
	return nil
}

// QuickStartResult reports where the matchmaker put the user.
type QuickStartResult struct {
	Room    *models.RoomSnapshot `json:"room"`
	Created bool                 `json:"created"`
}

// QuickStart drops the user into the first open public room, creating a
// fresh one when none qualifies. Open means WAITING, unlocked and not full.
func (s *RoomService) QuickStart(ctx context.Context, userID uuid.UUID) (*QuickStartResult, error) {
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	for _, id := range ids {
		snap, err := s.store.Get(ctx, id)
		if err != nil {
			s.log.WithError(err).Warnf("quick start: failed to inspect room %s", id)
			continue
		}
		if snap == nil || snap.Status != models.RoomWaiting || snap.HasPassword || snap.IsFull() {
			continue
		}
		joined, err := s.Join(ctx, userID, id, nil)
		if err != nil {
			// lost the race for this room, keep scanning
			s.log.WithError(err).Debugf("quick start: room %s rejected join", id)
			continue
		}
		return &QuickStartResult{Room: joined}, nil
	}

	row := &models.Room{
		ID:         uuid.New().String(),
		OwnerID:    userID,
		Name:       "Quick game",
		MaxPlayers: quickStartMaxPlayers,
		SmallBlind: quickStartSmallBlind,
		BigBlind:   quickStartBigBlind,
		Status:     string(models.RoomWaiting),
	}
	if err := s.db.CreateRoom(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to create quick start room: %w", err)
	}
	snap := &models.RoomSnapshot{
		ID:         row.ID,
		OwnerID:    userID,
		Status:     models.RoomWaiting,
		MaxPlayers: row.MaxPlayers,
		SmallBlind: row.SmallBlind,
		BigBlind:   row.BigBlind,
	}
	if err := s.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist quick start room: %w", err)
	}
	joined, err := s.Join(ctx, userID, row.ID, nil)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": row.ID,
	}).Info("quick start created a new room")
	return &QuickStartResult{Room: joined, Created: true}, nil
}
