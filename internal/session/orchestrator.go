// internal/session/orchestrator.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/engine"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/room"
)

// actionTimeoutHint is advertised with every turn notification. It is a
// client-side hint; the server does not enforce a turn clock.
const actionTimeoutHint = 30 * time.Second

// Orchestrator drives the game layer: readiness, hand start, per-action
// application and settlement. All game mutations run under the room's
// keyed lock; the engine snapshot embedded in the room record is the only
// game state that exists.
type Orchestrator struct {
	store room.Snapshots
	locks *room.KeyedMutex
	db    Database
	hub   *Hub
	log   *logrus.Logger
}

func NewOrchestrator(store room.Snapshots, locks *room.KeyedMutex, db Database, hub *Hub, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{store: store, locks: locks, db: db, hub: hub, log: log}
}

// ToggleReady flips the user's ready flag. When every seat in a room of two
// or more is ready and connected, the hand starts on the same call.
func (o *Orchestrator) ToggleReady(ctx context.Context, userID uuid.UUID, roomID string) (*models.RoomSnapshot, error) {
	unlock := o.locks.Lock(roomID)
	defer unlock()

	snap, err := o.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap == nil {
		return nil, Coded(models.CodeRoomNotFound, "room does not exist")
	}
	player, _ := snap.FindPlayer(userID)
	if player == nil {
		return nil, Coded(models.CodePlayerNotInRoom, "player is not in this room")
	}
	if snap.GameStarted {
		return nil, Coded(models.CodeInvalidAction, "hand already in progress")
	}

	player.IsReady = !player.IsReady

	if o.allReady(snap) {
		if err := o.startHand(ctx, snap); err != nil {
			return nil, err
		}
	} else {
		if err := o.store.Put(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
		}
		o.hub.NotifyRoom(roomID, "room:state_update", snap.PublicView(uuid.Nil))
	}
	return snap.PublicView(userID), nil
}

func (o *Orchestrator) allReady(snap *models.RoomSnapshot) bool {
	if len(snap.Players) < 2 {
		return false
	}
	for _, p := range snap.Players {
		if !p.IsReady || !p.IsConnected {
			return false
		}
	}
	return true
}

// startHand builds a fresh engine game from the seated players and persists
// the room only after the engine accepts the lineup. A failed start leaves
// the room untouched.
func (o *Orchestrator) startHand(ctx context.Context, snap *models.RoomSnapshot) error {
	g := engine.New(snap.SmallBlind, snap.BigBlind)
	for _, p := range snap.Players {
		if err := g.AddPlayer(p.ID, p.Chips); err != nil {
			return fmt.Errorf("failed to seat player %s: %w", p.ID, err)
		}
	}
	if err := g.StartHand(); err != nil {
		if errors.Is(err, engine.ErrNotEnough) {
			return Coded(models.CodeInsufficientChips, "not enough funded players to start")
		}
		return fmt.Errorf("failed to start hand: %w", err)
	}

	snap.Status = models.RoomPlaying
	snap.GameStarted = true
	snap.Game = g.Snapshot()
	for _, p := range snap.Players {
		p.LastAction = ""
	}
	if g.Over() {
		// the blinds put everyone all-in and the board ran out at deal
		// time; settle right away instead of waiting for an action
		o.mirrorSeats(snap)
		o.hub.NotifyRoom(snap.ID, "game:started", snap.PublicView(uuid.Nil))
		_, err := o.settle(ctx, snap, g, models.PlayerAction{})
		return err
	}
	if err := o.store.Put(ctx, snap); err != nil {
		return fmt.Errorf("failed to persist room %s: %w", snap.ID, err)
	}
	if err := o.db.UpdateRoomStatus(ctx, snap.ID, string(models.RoomPlaying)); err != nil {
		o.log.WithError(err).Warnf("failed to mark room %s as playing", snap.ID)
	}

	o.hub.NotifyRoom(snap.ID, "game:started", snap.PublicView(uuid.Nil))
	o.notifyTurn(snap)

	o.log.WithFields(logrus.Fields{
		"room_id": snap.ID,
		"players": len(snap.Players),
	}).Info("hand started")
	return nil
}

// notifyTurn tells the room whose turn it is and what that player may do.
func (o *Orchestrator) notifyTurn(snap *models.RoomSnapshot) {
	if snap.Game == nil || snap.Game.HandOver {
		return
	}
	g, err := engine.Restore(snap.Game)
	if err != nil {
		o.log.WithError(err).Warnf("failed to restore game for room %s", snap.ID)
		return
	}
	turnID := g.CurrentTurnPlayerID()
	o.hub.NotifyRoom(snap.ID, "game:action_required", map[string]any{
		"roomId":       snap.ID,
		"playerId":     turnID,
		"validActions": g.LegalActions(turnID),
		"timeout":      actionTimeoutHint.Milliseconds(),
	})
}

// ActionOutcome is returned to the acting player.
type ActionOutcome struct {
	Action    models.PlayerAction `json:"action"`
	GameState *engine.Snapshot    `json:"gameState"`
}

// ExecuteAction applies a validated action to the live hand. Turn order is
// re-checked under the lock since validation ran outside it.
func (o *Orchestrator) ExecuteAction(ctx context.Context, userID uuid.UUID, roomID string, action models.PlayerAction) (*ActionOutcome, error) {
	unlock := o.locks.Lock(roomID)
	defer unlock()

	snap, err := o.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap == nil {
		return nil, Coded(models.CodeRoomNotFound, "room does not exist")
	}
	if !snap.GameStarted || snap.Game == nil {
		return nil, Coded(models.CodeGameNotStarted, "no hand in progress")
	}
	g, err := engine.Restore(snap.Game)
	if err != nil {
		return nil, fmt.Errorf("failed to restore game for room %s: %w", roomID, err)
	}
	if g.CurrentTurnPlayerID() != userID {
		return nil, Coded(models.CodeNotPlayerTurn, "not your turn")
	}

	prevPhase := g.Phase()
	if err := g.Apply(userID, engine.ActionType(action.Type), action.Amount); err != nil {
		return nil, engineErr(err)
	}

	snap.Game = g.Snapshot()
	o.mirrorSeats(snap)

	if g.Over() {
		return o.settle(ctx, snap, g, action)
	}

	if err := o.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
	}

	o.hub.NotifyRoom(roomID, "game:action_made", map[string]any{
		"roomId":   roomID,
		"playerId": userID,
		"action":   action,
	})
	if g.Phase() != prevPhase {
		o.hub.NotifyRoom(roomID, "game:phase_changed", map[string]any{
			"roomId":    roomID,
			"phase":     g.Phase(),
			"community": snap.Game.Community,
			"pot":       snap.Game.Pot,
		})
	}
	o.notifyTurn(snap)

	return &ActionOutcome{Action: action, GameState: snap.Game.Public(userID)}, nil
}

// mirrorSeats copies live chip counts and last actions from the engine back
// onto the room's seat list so snapshots stay self-consistent.
func (o *Orchestrator) mirrorSeats(snap *models.RoomSnapshot) {
	if snap.Game == nil {
		return
	}
	for _, ps := range snap.Game.Players {
		if p, _ := snap.FindPlayer(ps.ID); p != nil {
			p.Chips = ps.Chips
			p.LastAction = string(ps.LastAction)
		}
	}
}

// settle finishes a hand: records the result, applies net chip deltas to
// the relational store and resets the room back to WAITING.
func (o *Orchestrator) settle(ctx context.Context, snap *models.RoomSnapshot, g *engine.Game, action models.PlayerAction) (*ActionOutcome, error) {
	result, err := g.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hand result: %w", err)
	}

	for _, ps := range snap.Game.Players {
		delta := ps.Chips - ps.StartChips
		if delta == 0 {
			continue
		}
		if err := o.db.AdjustUserChips(ctx, ps.ID, delta); err != nil {
			o.log.WithError(err).Errorf("failed to settle %+d chips for user %s", delta, ps.ID)
		}
	}
	rec := &models.GameRecord{
		ID:      uuid.New(),
		RoomID:  snap.ID,
		Winners: result.Winners,
		Payouts: result.Payouts,
		Pot:     result.Pot,
		EndedAt: time.Now(),
	}
	if err := o.db.AppendGameRecord(ctx, rec); err != nil {
		o.log.WithError(err).Errorf("failed to record finished hand for room %s", snap.ID)
	}

	finalState := snap.Game.Public(uuid.Nil)
	o.hub.NotifyRoom(snap.ID, "game:ended", map[string]any{
		"roomId":  snap.ID,
		"winners": result.Winners,
		"payouts": result.Payouts,
		"pot":     result.Pot,
	})

	snap.ResetAfterHand()
	if err := o.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist room %s: %w", snap.ID, err)
	}
	if err := o.db.UpdateRoomStatus(ctx, snap.ID, string(models.RoomWaiting)); err != nil {
		o.log.WithError(err).Warnf("failed to mark room %s as waiting", snap.ID)
	}
	o.hub.NotifyRoom(snap.ID, "room:state_update", snap.PublicView(uuid.Nil))

	o.log.WithFields(logrus.Fields{
		"room_id": snap.ID,
		"pot":     result.Pot,
		"winners": len(result.Winners),
	}).Info("hand settled")
	return &ActionOutcome{Action: action, GameState: finalState}, nil
}

// Restart lets the room owner clear a finished hand and put the room back
// in the waiting state so a new hand can be readied up.
func (o *Orchestrator) Restart(ctx context.Context, userID uuid.UUID, roomID string) (*models.RoomSnapshot, error) {
	unlock := o.locks.Lock(roomID)
	defer unlock()

	snap, err := o.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap == nil {
		return nil, Coded(models.CodeRoomNotFound, "room does not exist")
	}
	if snap.OwnerID != userID {
		return nil, Coded(models.CodeRoomAccessDenied, "only the owner can restart the room")
	}

	snap.ResetAfterHand()
	if err := o.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist room %s: %w", roomID, err)
	}
	if err := o.db.UpdateRoomStatus(ctx, roomID, string(models.RoomWaiting)); err != nil {
		o.log.WithError(err).Warnf("failed to mark room %s as waiting", roomID)
	}
	o.hub.NotifyRoom(roomID, "game:restarted", map[string]any{"roomId": roomID})
	o.hub.NotifyRoom(roomID, "room:state_update", snap.PublicView(uuid.Nil))
	return snap.PublicView(userID), nil
}

// engineErr translates engine sentinel errors into coded errors for the
// wire.
func engineErr(err error) error {
	switch {
	case errors.Is(err, engine.ErrNotYourTurn):
		return Coded(models.CodeNotPlayerTurn, "not your turn")
	case errors.Is(err, engine.ErrUnknownPlayer):
		return Coded(models.CodePlayerNotInRoom, "player is not seated")
	case errors.Is(err, engine.ErrHandOver):
		return Coded(models.CodeGameNotStarted, "hand is already over")
	case errors.Is(err, engine.ErrIllegalAction):
		return Coded(models.CodeInvalidAction, err.Error())
	default:
		return fmt.Errorf("failed to apply action: %w", err)
	}
}
