// internal/database/room.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrsh/pokerroom/internal/models"
)

// GetRoom fetches one room row, or (nil, nil) when it does not exist.
func (d *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row := d.Pool.QueryRow(ctx, `
		SELECT id, owner_id, name, max_players, small_blind, big_blind,
		       COALESCE(password_hash, ''), status, created_at
		FROM rooms WHERE id = $1`, id)

	var r models.Room
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.MaxPlayers, &r.SmallBlind,
		&r.BigBlind, &r.PasswordHash, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room %s: %w", id, err)
	}
	return &r, nil
}

// CreateRoom inserts a new room row.
func (d *DB) CreateRoom(ctx context.Context, r *models.Room) error {
	_, err := d.Pool.Exec(ctx, `
		INSERT INTO rooms (id, owner_id, name, max_players, small_blind, big_blind, password_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		r.ID, r.OwnerID, r.Name, r.MaxPlayers, r.SmallBlind, r.BigBlind,
		r.PasswordHash, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRoomStatus records a status transition on the relational row.
func (d *DB) UpdateRoomStatus(ctx context.Context, id, status string) error {
	_, err := d.Pool.Exec(ctx, `UPDATE rooms SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update room %s status: %w", id, err)
	}
	return nil
}

// DeleteRoomIfWaiting removes the room row only if it never left the WAITING
// state. Rooms with an in-progress or finished game keep their row for
// history. Returns whether a row was deleted.
func (d *DB) DeleteRoomIfWaiting(ctx context.Context, id string) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1 AND status = 'WAITING'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete room %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStaleWaitingRooms returns WAITING rooms created before the cutoff.
// Used by the scanner to find orphans whose cache entry is long gone.
func (d *DB) ListStaleWaitingRooms(ctx context.Context, olderThan time.Duration) ([]models.Room, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := d.Pool.Query(ctx, `
		SELECT id, owner_id, name, max_players, small_blind, big_blind,
		       COALESCE(password_hash, ''), status, created_at
		FROM rooms WHERE status = 'WAITING' AND created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale rooms: %w", err)
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.MaxPlayers, &r.SmallBlind,
			&r.BigBlind, &r.PasswordHash, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
