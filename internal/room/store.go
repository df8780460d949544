// internal/room/store.go
//
// Package room holds the two cache-backed registries the session layer is
// built on: the Room State Store (authoritative per-room snapshots) and the
// Presence Registry (user -> current room), plus the per-room lock that
// serializes every mutation of a given room.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrsh/pokerroom/internal/models"
)

const (
	roomKeyPrefix = "room:"

	// SnapshotTTL is refreshed on every write so an abandoned room still
	// expires even if the cleanup scheduler is down.
	SnapshotTTL = time.Hour
)

// Snapshots is the Room State Store contract consumers depend on.
type Snapshots interface {
	Get(ctx context.Context, roomID string) (*models.RoomSnapshot, error)
	Put(ctx context.Context, snap *models.RoomSnapshot) error
	Delete(ctx context.Context, roomID string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// Store implements Snapshots on Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a connected Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func roomKey(roomID string) string { return roomKeyPrefix + roomID }

// Get loads a snapshot, or (nil, nil) when the key is absent.
func (s *Store) Get(ctx context.Context, roomID string) (*models.RoomSnapshot, error) {
	raw, err := s.rdb.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read room %s: %w", roomID, err)
	}
	var snap models.RoomSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", roomID, err)
	}
	return &snap, nil
}

// Put persists a snapshot and refreshes its TTL.
func (s *Store) Put(ctx context.Context, snap *models.RoomSnapshot) error {
	snap.Normalize()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", snap.ID, err)
	}
	if err := s.rdb.Set(ctx, roomKey(snap.ID), data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to write room %s: %w", snap.ID, err)
	}
	return nil
}

// Delete removes a snapshot.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, roomKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// ListIDs scans the keyspace for every room id currently cached.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(roomKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan room keys: %w", err)
	}
	return ids, nil
}
