// internal/validate/validate.go
//
// Package validate is the gate every state-changing request passes before it
// reaches the orchestrator: rate limits, format checks, turn and legality
// checks against the room store, and the anti-cheat heuristics. Checks run
// in a fixed order and the first failure short-circuits the rest.
package validate

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/engine"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/room"
)

const (
	minPasswordLen = 1
	maxPasswordLen = 50
)

// Verdict is the outcome of a validation pass.
type Verdict struct {
	Valid   bool
	Code    string
	Message string
}

func ok() Verdict { return Verdict{Valid: true} }

func fail(code, message string) Verdict {
	return Verdict{Valid: false, Code: code, Message: message}
}

// Pipeline composes the limiter, the room store and the anti-cheat pass.
type Pipeline struct {
	limiter *RateLimiter
	rooms   room.Snapshots
	cheat   *AntiCheat
	log     *logrus.Logger
}

// NewPipeline wires the gate. One instance per process.
func NewPipeline(limiter *RateLimiter, rooms room.Snapshots, cheat *AntiCheat, log *logrus.Logger) *Pipeline {
	return &Pipeline{limiter: limiter, rooms: rooms, cheat: cheat, log: log}
}

// AllowMessage consumes one unit of the general message budget.
func (p *Pipeline) AllowMessage(userID uuid.UUID) bool {
	return p.limiter.Allow(userID, LimitMessage)
}

// ValidateRoomJoin gates a join request: join budget, canonical room id
// format, and password shape. A nil password means none was supplied, which
// is allowed; a present empty one is not.
func (p *Pipeline) ValidateRoomJoin(userID uuid.UUID, roomID string, password *string) Verdict {
	if !p.limiter.Allow(userID, LimitJoin) {
		return fail(models.CodeRateLimited, "too many join attempts, slow down")
	}
	if _, err := uuid.Parse(roomID); err != nil {
		return fail(models.CodeRoomNotFound, "malformed room id")
	}
	if password != nil {
		if n := len(*password); n < minPasswordLen || n > maxPasswordLen {
			return fail(models.CodeInvalidPassword, "password must be between 1 and 50 characters")
		}
	}
	return ok()
}

// ValidatePlayerAction gates a game action. The checks run strictly in this
// order: rate budget, room existence, membership, game active, turn
// ownership, player status, action-specific legality, anti-cheat.
func (p *Pipeline) ValidatePlayerAction(ctx context.Context, userID uuid.UUID, roomID string, action models.PlayerAction) Verdict {
	if !p.limiter.Allow(userID, LimitAction) {
		return fail(models.CodeRateLimited, "too many actions, slow down")
	}

	snap, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		p.log.WithError(err).Warn("validation: failed to load room")
		return fail(models.CodeInternalError, "failed to load room state")
	}
	if snap == nil {
		return fail(models.CodeRoomNotFound, "room does not exist")
	}
	if pl, _ := snap.FindPlayer(userID); pl == nil {
		return fail(models.CodePlayerNotInRoom, "you are not in this room")
	}
	if !snap.GameStarted || snap.Game == nil {
		return fail(models.CodeGameNotStarted, "no active game in this room")
	}
	if snap.Game.CurrentTurnPlayerID() != userID {
		return fail(models.CodeNotPlayerTurn, "it is not your turn")
	}
	seat := snap.Game.Player(userID)
	if seat == nil || seat.Status != engine.StatusActive {
		return fail(models.CodeInvalidAction, "player cannot act in the current hand")
	}

	if v := checkActionLegality(seat, snap.Game, action); !v.Valid {
		return v
	}
	return p.cheat.Check(ctx, userID, roomID, action)
}

func checkActionLegality(seat *engine.PlayerState, game *engine.Snapshot, action models.PlayerAction) Verdict {
	switch engine.ActionType(action.Type) {
	case engine.ActionRaise:
		if action.Amount <= 0 || action.Amount < 2*game.CurrentBet {
			return fail(models.CodeInvalidAction, "Invalid raise amount")
		}
		if action.Amount > seat.Chips {
			return fail(models.CodeInsufficientChips, "raise exceeds your chip stack")
		}
	case engine.ActionCall:
		shortfall := game.CurrentBet - seat.RoundBet
		if shortfall <= 0 {
			return fail(models.CodeInvalidAction, "nothing to call")
		}
		if shortfall > seat.Chips {
			return fail(models.CodeInsufficientChips, "call exceeds your chip stack")
		}
	case engine.ActionCheck:
		if seat.RoundBet < game.CurrentBet {
			return fail(models.CodeInvalidAction, "cannot check below the current bet")
		}
	case engine.ActionFold:
		// always legal on your turn
	default:
		return fail(models.CodeInvalidAction, "unknown action type")
	}
	return ok()
}

// RecordAction logs an accepted action for the anti-cheat heuristics. Call
// only after the orchestrator has applied the action.
func (p *Pipeline) RecordAction(ctx context.Context, userID uuid.UUID, roomID string, action models.PlayerAction) {
	p.cheat.Record(ctx, userID, roomID, action)
}
