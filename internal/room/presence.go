// internal/room/presence.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/models"
)

const (
	presenceKeyPrefix = "user_room:"

	// PresenceTTL is the lifetime of a user -> room mapping. It does not
	// share a transaction with the room snapshot, so consistency between
	// the two is checked, not assumed.
	PresenceTTL = time.Hour
)

// ErrLiveHand is returned by the conflict path when the user's recorded
// room has a hand in progress. That membership is not stale; force-leaving
// mid-hand would strand the player's chips in the pot.
var ErrLiveHand = errors.New("user is seated in a live hand")

// Notifier is the broadcast surface presence needs when it force-removes a
// user from a stale room. The hub implements it.
type Notifier interface {
	NotifyUser(userID uuid.UUID, event string, payload any)
	NotifyRoom(roomID string, event string, payload any)
	UnbindRoom(userID uuid.UUID)
}

// Presence tracks which room each user currently claims to occupy and
// actively reconciles the cases where that claim and the room contents
// disagree.
type Presence struct {
	kv     KV
	rooms  Snapshots
	locks  *KeyedMutex
	notify Notifier
	log    *logrus.Logger
}

// NewPresence wires the registry. One instance per process.
func NewPresence(kv KV, rooms Snapshots, locks *KeyedMutex, notify Notifier, log *logrus.Logger) *Presence {
	return &Presence{kv: kv, rooms: rooms, locks: locks, notify: notify, log: log}
}

func presenceKey(userID uuid.UUID) string { return presenceKeyPrefix + userID.String() }

// CurrentRoom returns the room id the user is recorded in, or "".
func (p *Presence) CurrentRoom(ctx context.Context, userID uuid.UUID) (string, error) {
	return p.kv.Get(ctx, presenceKey(userID))
}

// SetCurrentRoom records the user's room claim.
func (p *Presence) SetCurrentRoom(ctx context.Context, userID uuid.UUID, roomID string) error {
	return p.kv.Set(ctx, presenceKey(userID), roomID, PresenceTTL)
}

// ClearCurrentRoom drops the user's room claim.
func (p *Presence) ClearCurrentRoom(ctx context.Context, userID uuid.UUID) error {
	return p.kv.Del(ctx, presenceKey(userID))
}

// ValidateConsistency cross-checks the presence record against the room it
// names. It reports the issues found without fixing them.
func (p *Presence) ValidateConsistency(ctx context.Context, userID uuid.UUID) (bool, []string, error) {
	roomID, err := p.CurrentRoom(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	if roomID == "" {
		return true, nil, nil
	}
	var issues []string
	snap, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return false, nil, err
	}
	if snap == nil {
		issues = append(issues, fmt.Sprintf("presence names room %s which no longer exists", roomID))
	} else if pl, _ := snap.FindPlayer(userID); pl == nil {
		issues = append(issues, fmt.Sprintf("presence names room %s which does not list the user", roomID))
	}
	return len(issues) == 0, issues, nil
}

// CheckAndHandleConflict prepares a join to targetRoomID. If the user is
// recorded in a different room they are force-removed from it first: the
// stale room is repaired (positions, ownership), persisted or deleted, and
// both the user and the old room are notified. The stale presence record is
// cleared so the new join can proceed.
func (p *Presence) CheckAndHandleConflict(ctx context.Context, userID uuid.UUID, targetRoomID string) error {
	recorded, err := p.CurrentRoom(ctx, userID)
	if err != nil {
		return err
	}
	if recorded == "" || recorded == targetRoomID {
		return nil
	}

	p.log.WithFields(logrus.Fields{
		"user":   userID,
		"stale":  recorded,
		"target": targetRoomID,
	}).Warn("presence conflict detected, force-leaving stale room")

	if err := p.ForceLeave(ctx, userID, recorded); err != nil {
		return fmt.Errorf("failed to force-leave room %s: %w", recorded, err)
	}
	return p.ClearCurrentRoom(ctx, userID)
}

// ForceLeave removes the user from the given room outside the normal leave
// flow. The room is deleted if it empties out.
func (p *Presence) ForceLeave(ctx context.Context, userID uuid.UUID, roomID string) error {
	unlock := p.locks.Lock(roomID)
	defer unlock()

	snap, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil // room already gone, nothing to repair
	}
	if pl, _ := snap.FindPlayer(userID); pl != nil && snap.GameStarted {
		return ErrLiveHand
	}
	if !snap.RemovePlayer(userID) {
		return nil
	}

	if len(snap.Players) == 0 {
		if err := p.rooms.Delete(ctx, roomID); err != nil {
			return err
		}
	} else {
		if err := p.rooms.Put(ctx, snap); err != nil {
			return err
		}
	}

	p.notify.UnbindRoom(userID)
	p.notify.NotifyUser(userID, "error", models.Fail(models.CodeForcedRoomLeave,
		fmt.Sprintf("removed from room %s due to a stale session", roomID)))
	p.notify.NotifyRoom(roomID, "room:player_left", map[string]any{
		"roomId":   roomID,
		"playerId": userID.String(),
		"forced":   true,
	})
	return nil
}

// CleanupOrphanedUserStates deletes every presence record whose target room
// no longer exists. Bounds the lifetime of inconsistency left behind by
// crashes or missed deletions. Returns the number of records removed.
func (p *Presence) CleanupOrphanedUserStates(ctx context.Context) (int, error) {
	keys, err := p.kv.Keys(ctx, presenceKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	roomIDs, err := p.rooms.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	alive := lo.SliceToMap(roomIDs, func(id string) (string, struct{}) { return id, struct{}{} })

	removed := 0
	for _, key := range keys {
		roomID, err := p.kv.Get(ctx, key)
		if err != nil {
			p.log.WithError(err).Warnf("orphan sweep: failed to read %s", key)
			continue
		}
		if roomID == "" {
			continue
		}
		if _, ok := alive[roomID]; ok {
			continue
		}
		if err := p.kv.Del(ctx, key); err != nil {
			p.log.WithError(err).Warnf("orphan sweep: failed to delete %s", key)
			continue
		}
		p.log.Infof("orphan sweep: cleared %s (room %s is gone)", strings.TrimPrefix(key, presenceKeyPrefix), roomID)
		removed++
	}
	return removed, nil
}

// StartSweeper runs CleanupOrphanedUserStates on the given interval until
// the context is cancelled.
func (p *Presence) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := p.CleanupOrphanedUserStates(ctx); err != nil {
					p.log.WithError(err).Warn("presence orphan sweep failed")
				} else if n > 0 {
					p.log.Infof("presence orphan sweep removed %d records", n)
				}
			}
		}
	}()
}
