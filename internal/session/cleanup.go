// internal/session/cleanup.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrsh/pokerroom/internal/room"
)

const (
	// DefaultCleanupDelay is the grace period between a room emptying out
	// and its destruction.
	DefaultCleanupDelay = 30 * time.Second

	// minWarningLead keeps the cleanup warning at least this far ahead of
	// the destruction itself.
	minWarningLead = 5 * time.Second

	// orphanAge is how old a WAITING database row must be, with no cache
	// entry, before the scanner treats it as an orphan. Younger rows may
	// be mid-creation.
	orphanAge = 24 * time.Hour
)

type cleanupEntry struct {
	warn    *timingwheel.Timer
	destroy *timingwheel.Timer
}

// Scheduler arms a warning/destruction timer pair for every room that goes
// empty and tears the pair down the instant anyone reconnects. A companion
// scanner sweeps the whole keyspace to catch rooms the per-room timers
// missed (crash recovery).
type Scheduler struct {
	tw      *timingwheel.TimingWheel
	mu      sync.Mutex
	entries map[string]*cleanupEntry

	store room.Snapshots
	locks *room.KeyedMutex
	db    Database
	hub   *Hub
	delay time.Duration
	log   *logrus.Logger
}

// NewScheduler wires the scheduler. Call Start before scheduling.
func NewScheduler(store room.Snapshots, locks *room.KeyedMutex, db Database, hub *Hub, log *logrus.Logger, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultCleanupDelay
	}
	return &Scheduler{
		tw:      timingwheel.NewTimingWheel(100*time.Millisecond, 512),
		entries: make(map[string]*cleanupEntry),
		store:   store,
		locks:   locks,
		db:      db,
		hub:     hub,
		delay:   delay,
		log:     log,
	}
}

// Start spins the timing wheel.
func (s *Scheduler) Start() { s.tw.Start() }

// Stop halts the wheel and drops all pending timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for roomID, e := range s.entries {
		stopEntry(e)
		delete(s.entries, roomID)
	}
	s.mu.Unlock()
	s.tw.Stop()
}

// Schedule arms the timer pair for a room that currently has zero connected
// players. Any prior pair for the room is cancelled first.
func (s *Scheduler) Schedule(ctx context.Context, roomID string) {
	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		s.log.WithError(err).Warnf("cleanup: failed to load room %s for scheduling", roomID)
		return
	}
	if snap == nil || snap.ConnectedCount() > 0 {
		return
	}

	lead := s.delay / 5
	if lead < minWarningLead {
		lead = minWarningLead
	}
	warnDelay := s.delay - lead

	s.mu.Lock()
	if prev, ok := s.entries[roomID]; ok {
		stopEntry(prev)
	}
	e := &cleanupEntry{}
	if warnDelay > 0 {
		e.warn = s.tw.AfterFunc(warnDelay, func() {
			s.hub.NotifyRoom(roomID, "room:cleanup_warning", map[string]any{
				"roomId":     roomID,
				"timeLeftMs": lead.Milliseconds(),
			})
		})
	}
	e.destroy = s.tw.AfterFunc(s.delay, func() {
		// timer callbacks must not block the wheel
		go func() {
			if err := s.PerformCleanup(context.Background(), roomID); err != nil {
				s.log.WithError(err).Warnf("cleanup: failed to reclaim room %s", roomID)
			}
		}()
	})
	s.entries[roomID] = e
	s.mu.Unlock()

	s.log.Infof("cleanup: room %s scheduled for destruction in %s", roomID, s.delay)
}

// Cancel clears both timers for the room. Called whenever occupancy becomes
// non-zero again.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[roomID]; ok {
		stopEntry(e)
		delete(s.entries, roomID)
		s.log.Infof("cleanup: cancelled for room %s", roomID)
	}
}

func stopEntry(e *cleanupEntry) {
	if e.warn != nil {
		e.warn.Stop()
	}
	if e.destroy != nil {
		e.destroy.Stop()
	}
}

// PerformCleanup reclaims one empty room: it re-checks occupancy (a player
// may have reconnected between scheduling and firing), broadcasts the
// destruction notice, force-disconnects every socket bound to the room,
// deletes the cache entry and deletes the relational row only if the room
// never left WAITING.
func (s *Scheduler) PerformCleanup(ctx context.Context, roomID string) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	if snap != nil && snap.ConnectedCount() > 0 {
		s.Cancel(roomID)
		return nil
	}

	s.hub.NotifyRoom(roomID, "room:destroyed", map[string]any{
		"roomId": roomID,
		"reason": "inactivity",
	})
	s.hub.DisconnectRoom(roomID)

	if err := s.store.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room %s from cache: %w", roomID, err)
	}
	if _, err := s.db.DeleteRoomIfWaiting(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room %s row: %w", roomID, err)
	}

	s.mu.Lock()
	if e, ok := s.entries[roomID]; ok {
		stopEntry(e)
		delete(s.entries, roomID)
	}
	s.mu.Unlock()

	s.log.Infof("cleanup: room %s reclaimed", roomID)
	return nil
}

// ScanReport summarizes one sweep. Errors are collected, never fatal.
type ScanReport struct {
	Scanned        int      `json:"scanned"`
	Reclaimed      int      `json:"reclaimed"`
	OrphansDeleted int      `json:"orphansDeleted"`
	Errors         []string `json:"errors,omitempty"`
}

// ScanAndCleanup sweeps every cached room, reclaiming the empty ones
// through the same PerformCleanup path, then deletes relational orphans:
// WAITING rows with no cache entry that are older than 24 hours.
func (s *Scheduler) ScanAndCleanup(ctx context.Context) *ScanReport {
	report := &ScanReport{}
	var mu sync.Mutex
	addErr := func(err error) {
		mu.Lock()
		report.Errors = append(report.Errors, err.Error())
		mu.Unlock()
	}

	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		addErr(fmt.Errorf("failed to list rooms: %w", err))
		return report
	}
	report.Scanned = len(ids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		roomID := id
		g.Go(func() error {
			snap, err := s.store.Get(gctx, roomID)
			if err != nil {
				addErr(fmt.Errorf("room %s: %w", roomID, err))
				return nil
			}
			if snap != nil && snap.ConnectedCount() > 0 {
				return nil
			}
			if err := s.PerformCleanup(gctx, roomID); err != nil {
				addErr(err)
				return nil
			}
			mu.Lock()
			report.Reclaimed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stale, err := s.db.ListStaleWaitingRooms(ctx, orphanAge)
	if err != nil {
		addErr(fmt.Errorf("failed to list stale rooms: %w", err))
		return report
	}
	for _, row := range stale {
		snap, err := s.store.Get(ctx, row.ID)
		if err != nil {
			addErr(fmt.Errorf("room %s: %w", row.ID, err))
			continue
		}
		if snap != nil {
			continue // not an orphan, the cache still knows it
		}
		deleted, err := s.db.DeleteRoomIfWaiting(ctx, row.ID)
		if err != nil {
			addErr(fmt.Errorf("orphan %s: %w", row.ID, err))
			continue
		}
		if deleted {
			report.OrphansDeleted++
		}
	}

	s.log.WithFields(logrus.Fields{
		"scanned":   report.Scanned,
		"reclaimed": report.Reclaimed,
		"orphans":   report.OrphansDeleted,
		"errors":    len(report.Errors),
	}).Info("cleanup scan finished")
	return report
}

// StartPeriodicScan runs ScanAndCleanup on the given interval until the
// context is cancelled.
func (s *Scheduler) StartPeriodicScan(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ScanAndCleanup(ctx)
			}
		}
	}()
}
