// internal/engine/engine.go
//
// Package engine implements the table rules for no-limit hold'em: seating,
// blinds, street progression, action legality and pot settlement. The session
// layer never reaches into the internals; it talks to a Game through the
// collaborator surface (AddPlayer, StartHand, CurrentTurnPlayerID,
// LegalActions, Apply, Snapshot/Restore, Result) and treats the Snapshot as
// an opaque, versioned record embedded in the room state.
package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// SnapshotVersion is the schema version of Snapshot. Restore rejects
// snapshots written by an incompatible engine.
const SnapshotVersion = 1

// ActionType enumerates the actions a player may submit.
type ActionType string

const (
	ActionFold  ActionType = "fold"
	ActionCheck ActionType = "check"
	ActionCall  ActionType = "call"
	ActionRaise ActionType = "raise"
)

// Phase is a betting street.
type Phase string

const (
	PhasePreflop  Phase = "preflop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
)

// PlayerStatus describes whether a seat can still act in the current hand.
type PlayerStatus string

const (
	StatusActive PlayerStatus = "active"
	StatusFolded PlayerStatus = "folded"
	StatusAllIn  PlayerStatus = "allin"
)

var (
	ErrNotYourTurn    = errors.New("not this player's turn")
	ErrUnknownPlayer  = errors.New("player is not seated in this hand")
	ErrIllegalAction  = errors.New("illegal action for the current state")
	ErrHandOver       = errors.New("hand is already over")
	ErrHandInProgress = errors.New("hand is already in progress")
	ErrNotEnough      = errors.New("at least two players with chips are required")
	ErrBadSnapshot    = errors.New("snapshot is missing or has an incompatible version")
)

// PlayerState is one seat's in-hand state.
type PlayerState struct {
	ID         uuid.UUID    `json:"id"`
	Chips      int64        `json:"chips"`
	StartChips int64        `json:"startChips"`
	Hole       []Card       `json:"hole,omitempty"`
	RoundBet   int64        `json:"roundBet"`
	TotalBet   int64        `json:"totalBet"`
	Status     PlayerStatus `json:"status"`
	LastAction ActionType   `json:"lastAction,omitempty"`
	Acted      bool         `json:"acted"`
}

// HandResult is the settlement of a finished hand. Payouts are gross
// winnings taken from the pot; a player's net delta for the hand is
// Chips - StartChips.
type HandResult struct {
	Winners []uuid.UUID         `json:"winners"`
	Payouts map[uuid.UUID]int64 `json:"payouts"`
	Pot     int64               `json:"pot"`
}

// Snapshot is the full serialized state of a hand. It is the only thing the
// session layer persists; a Game can be rebuilt from it at any point.
type Snapshot struct {
	Version    int            `json:"version"`
	Phase      Phase          `json:"phase"`
	Players    []*PlayerState `json:"players"`
	Community  []Card         `json:"community"`
	Deck       []Card         `json:"deck,omitempty"`
	Pot        int64          `json:"pot"`
	CurrentBet int64          `json:"currentBet"`
	MinRaise   int64          `json:"minRaise"`
	DealerPos  int            `json:"dealerPos"`
	Turn       int            `json:"turn"`
	SmallBlind int64          `json:"smallBlind"`
	BigBlind   int64          `json:"bigBlind"`
	HandOver   bool           `json:"handOver"`
	Result     *HandResult    `json:"result,omitempty"`
}

// Player returns the seat state for the given id, or nil.
func (s *Snapshot) Player(id uuid.UUID) *PlayerState {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CurrentTurnPlayerID is the id of the seat entitled to act, or uuid.Nil
// once the hand is over.
func (s *Snapshot) CurrentTurnPlayerID() uuid.UUID {
	if s.HandOver || s.Turn < 0 || s.Turn >= len(s.Players) {
		return uuid.Nil
	}
	return s.Players[s.Turn].ID
}

// clone deep-copies the snapshot.
func (s *Snapshot) clone() *Snapshot {
	cp := *s
	cp.Players = make([]*PlayerState, len(s.Players))
	for i, p := range s.Players {
		pc := *p
		pc.Hole = append([]Card(nil), p.Hole...)
		cp.Players[i] = &pc
	}
	cp.Community = append([]Card(nil), s.Community...)
	cp.Deck = append([]Card(nil), s.Deck...)
	if s.Result != nil {
		rc := *s.Result
		rc.Winners = append([]uuid.UUID(nil), s.Result.Winners...)
		rc.Payouts = make(map[uuid.UUID]int64, len(s.Result.Payouts))
		for k, v := range s.Result.Payouts {
			rc.Payouts[k] = v
		}
		cp.Result = &rc
	}
	return &cp
}

// Public returns a copy safe to broadcast: the deck is stripped and hole
// cards are hidden for everyone but the viewer until the hand is over.
func (s *Snapshot) Public(viewer uuid.UUID) *Snapshot {
	cp := s.clone()
	cp.Deck = nil
	for _, p := range cp.Players {
		if p.ID != viewer && !cp.HandOver {
			p.Hole = nil
		}
	}
	return cp
}

// Game wraps a Snapshot with the rules that mutate it.
type Game struct {
	s   *Snapshot
	rng *rand.Rand
}

// New creates an empty table with the given blinds.
func New(smallBlind, bigBlind int64) *Game {
	return &Game{
		s: &Snapshot{
			Version:    SnapshotVersion,
			Phase:      PhasePreflop,
			SmallBlind: smallBlind,
			BigBlind:   bigBlind,
			DealerPos:  -1,
			Turn:       -1,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Restore rebuilds a Game from a persisted snapshot.
func Restore(s *Snapshot) (*Game, error) {
	if s == nil || s.Version != SnapshotVersion {
		return nil, ErrBadSnapshot
	}
	return &Game{
		s:   s.clone(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Snapshot returns a deep copy of the current state.
func (g *Game) Snapshot() *Snapshot { return g.s.clone() }

// Phase returns the current betting street.
func (g *Game) Phase() Phase { return g.s.Phase }

// Over reports whether the hand has finished.
func (g *Game) Over() bool { return g.s.HandOver }

// CurrentTurnPlayerID is the id of the seat entitled to act.
func (g *Game) CurrentTurnPlayerID() uuid.UUID { return g.s.CurrentTurnPlayerID() }

// AddPlayer seats a player before the hand starts.
func (g *Game) AddPlayer(id uuid.UUID, chips int64) error {
	if g.s.Turn >= 0 {
		return ErrHandInProgress
	}
	if g.s.Player(id) != nil {
		return fmt.Errorf("player %s already seated", id)
	}
	g.s.Players = append(g.s.Players, &PlayerState{
		ID:         id,
		Chips:      chips,
		StartChips: chips,
		Status:     StatusActive,
	})
	return nil
}

// StartHand shuffles, deals hole cards, posts blinds and sets the first
// actor.
func (g *Game) StartHand() error {
	s := g.s
	if s.Turn >= 0 && !s.HandOver {
		return ErrHandInProgress
	}
	funded := 0
	for _, p := range s.Players {
		if p.Chips > 0 {
			funded++
		}
	}
	if funded < 2 {
		return ErrNotEnough
	}

	s.Deck = newDeck(g.rng)
	s.Community = nil
	s.Pot = 0
	s.CurrentBet = 0
	s.MinRaise = s.BigBlind
	s.Phase = PhasePreflop
	s.HandOver = false
	s.Result = nil
	for _, p := range s.Players {
		p.Hole = []Card{g.draw(), g.draw()}
		p.RoundBet = 0
		p.TotalBet = 0
		p.Acted = false
		p.LastAction = ""
		p.StartChips = p.Chips
		if p.Chips > 0 {
			p.Status = StatusActive
		} else {
			p.Status = StatusFolded
		}
	}

	n := len(s.Players)
	s.DealerPos = (s.DealerPos + 1) % n
	sb := g.nextFunded(s.DealerPos)
	bb := g.nextFunded(sb)
	g.postBlind(s.Players[sb], s.SmallBlind)
	g.postBlind(s.Players[bb], s.BigBlind)
	s.CurrentBet = s.BigBlind
	s.Turn = g.nextActive(bb)
	if s.Turn < 0 {
		// the blinds put everyone all-in; run out the board
		g.advanceStreet()
	}
	return nil
}

func (g *Game) draw() Card {
	c := g.s.Deck[0]
	g.s.Deck = g.s.Deck[1:]
	return c
}

func (g *Game) postBlind(p *PlayerState, blind int64) {
	amt := blind
	if amt > p.Chips {
		amt = p.Chips
	}
	p.Chips -= amt
	p.RoundBet += amt
	p.TotalBet += amt
	if p.Chips == 0 {
		p.Status = StatusAllIn
	}
}

// nextFunded finds the next seat after i that still has chips or a bet in.
func (g *Game) nextFunded(i int) int {
	n := len(g.s.Players)
	for step := 1; step <= n; step++ {
		j := (i + step) % n
		p := g.s.Players[j]
		if p.Status != StatusFolded && (p.Chips > 0 || p.TotalBet > 0) {
			return j
		}
	}
	return i
}

// nextActive finds the next seat after i that can still act this street.
func (g *Game) nextActive(i int) int {
	n := len(g.s.Players)
	for step := 1; step <= n; step++ {
		j := (i + step) % n
		if g.s.Players[j].Status == StatusActive {
			return j
		}
	}
	return -1
}

// LegalActions lists the actions the given player could submit right now.
func (g *Game) LegalActions(id uuid.UUID) []ActionType {
	s := g.s
	if s.HandOver || s.CurrentTurnPlayerID() != id {
		return nil
	}
	p := s.Player(id)
	if p == nil || p.Status != StatusActive {
		return nil
	}
	actions := []ActionType{ActionFold}
	shortfall := s.CurrentBet - p.RoundBet
	if shortfall == 0 {
		actions = append(actions, ActionCheck)
	} else if shortfall <= p.Chips {
		actions = append(actions, ActionCall)
	}
	if p.Chips > shortfall {
		actions = append(actions, ActionRaise)
	}
	return actions
}

// Apply executes one validated action. For raise, amount is the total the
// player's street bet becomes. The caller re-validates legality upstream;
// the checks here are the engine's own guard against state drift.
func (g *Game) Apply(id uuid.UUID, action ActionType, amount int64) error {
	s := g.s
	if s.HandOver {
		return ErrHandOver
	}
	if s.CurrentTurnPlayerID() != id {
		return ErrNotYourTurn
	}
	p := s.Player(id)
	if p == nil {
		return ErrUnknownPlayer
	}
	if p.Status != StatusActive {
		return ErrIllegalAction
	}

	switch action {
	case ActionFold:
		p.Status = StatusFolded
	case ActionCheck:
		if p.RoundBet != s.CurrentBet {
			return fmt.Errorf("%w: cannot check below the current bet", ErrIllegalAction)
		}
	case ActionCall:
		need := s.CurrentBet - p.RoundBet
		if need <= 0 || need > p.Chips {
			return fmt.Errorf("%w: cannot call %d", ErrIllegalAction, need)
		}
		g.commit(p, need)
	case ActionRaise:
		minTo := s.CurrentBet + s.MinRaise
		if s.CurrentBet == 0 {
			minTo = s.BigBlind
		}
		need := amount - p.RoundBet
		if amount <= s.CurrentBet || amount < minTo || need <= 0 || need > p.Chips {
			return fmt.Errorf("%w: invalid raise to %d", ErrIllegalAction, amount)
		}
		s.MinRaise = amount - s.CurrentBet
		s.CurrentBet = amount
		g.commit(p, need)
		// a raise reopens the action
		for _, o := range s.Players {
			if o != p && o.Status == StatusActive {
				o.Acted = false
			}
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrIllegalAction, action)
	}
	p.Acted = true
	p.LastAction = action

	g.afterAction()
	return nil
}

func (g *Game) commit(p *PlayerState, amt int64) {
	p.Chips -= amt
	p.RoundBet += amt
	p.TotalBet += amt
	if p.Chips == 0 {
		p.Status = StatusAllIn
	}
}

func (g *Game) afterAction() {
	s := g.s
	if g.contenders() == 1 {
		g.finish()
		return
	}
	if g.roundComplete() {
		g.advanceStreet()
		return
	}
	s.Turn = g.nextActive(s.Turn)
	if s.Turn < 0 {
		// nobody left who can act; run out the board
		g.advanceStreet()
	}
}

// contenders counts the seats still in the hand (active or all-in).
func (g *Game) contenders() int {
	n := 0
	for _, p := range g.s.Players {
		if p.Status != StatusFolded {
			n++
		}
	}
	return n
}

func (g *Game) roundComplete() bool {
	for _, p := range g.s.Players {
		if p.Status != StatusActive {
			continue
		}
		if !p.Acted || p.RoundBet != g.s.CurrentBet {
			return false
		}
	}
	return true
}

func (g *Game) collectBets() {
	for _, p := range g.s.Players {
		g.s.Pot += p.RoundBet
		p.RoundBet = 0
		p.Acted = false
	}
	g.s.CurrentBet = 0
	g.s.MinRaise = g.s.BigBlind
}

// activeCount counts seats that can still bet.
func (g *Game) activeCount() int {
	n := 0
	for _, p := range g.s.Players {
		if p.Status == StatusActive {
			n++
		}
	}
	return n
}

func (g *Game) advanceStreet() {
	s := g.s
	for {
		g.collectBets()
		switch s.Phase {
		case PhasePreflop:
			s.Phase = PhaseFlop
			s.Community = append(s.Community, g.draw(), g.draw(), g.draw())
		case PhaseFlop:
			s.Phase = PhaseTurn
			s.Community = append(s.Community, g.draw())
		case PhaseTurn:
			s.Phase = PhaseRiver
			s.Community = append(s.Community, g.draw())
		case PhaseRiver:
			s.Phase = PhaseShowdown
			g.finish()
			return
		default:
			g.finish()
			return
		}
		// with fewer than two seats able to bet there is no more action;
		// keep dealing until showdown
		if g.activeCount() >= 2 {
			s.Turn = g.nextActive(s.DealerPos)
			return
		}
	}
}

// finish settles the pot, updates chip counts and records the result.
func (g *Game) finish() {
	s := g.s
	g.collectBets()
	s.HandOver = true
	s.Turn = -1

	var winners []uuid.UUID
	if g.contenders() == 1 {
		for _, p := range s.Players {
			if p.Status != StatusFolded {
				winners = append(winners, p.ID)
			}
		}
	} else {
		s.Phase = PhaseShowdown
		best := HandRank{Category: -1}
		for _, p := range s.Players {
			if p.Status == StatusFolded {
				continue
			}
			h := evaluateBest(append(append([]Card(nil), p.Hole...), s.Community...))
			switch {
			case h.BetterThan(best):
				best = h
				winners = []uuid.UUID{p.ID}
			case h.Equal(best):
				winners = append(winners, p.ID)
			}
		}
	}

	payouts := make(map[uuid.UUID]int64, len(winners))
	if len(winners) > 0 {
		share := s.Pot / int64(len(winners))
		rem := s.Pot - share*int64(len(winners))
		for i, id := range winners {
			amt := share
			if i == 0 {
				amt += rem
			}
			payouts[id] = amt
			s.Player(id).Chips += amt
		}
	}
	s.Result = &HandResult{Winners: winners, Payouts: payouts, Pot: s.Pot}
	s.Pot = 0
}

// Result returns the settlement of a finished hand.
func (g *Game) Result() (*HandResult, error) {
	if !g.s.HandOver || g.s.Result == nil {
		return nil, errors.New("hand is not over")
	}
	return g.s.clone().Result, nil
}
