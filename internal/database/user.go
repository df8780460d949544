// internal/database/user.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrsh/pokerroom/internal/models"
)

// GetUser fetches an account row, or (nil, nil) when it does not exist.
func (d *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := d.Pool.QueryRow(ctx, `
		SELECT id, username, COALESCE(avatar, ''), chips FROM users WHERE id = $1`, id)

	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Avatar, &u.Chips)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return &u, nil
}

// AdjustUserChips applies a settlement delta to the account balance.
func (d *DB) AdjustUserChips(ctx context.Context, id uuid.UUID, delta int64) error {
	_, err := d.Pool.Exec(ctx, `UPDATE users SET chips = chips + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust chips for user %s: %w", id, err)
	}
	return nil
}

// AppendGameRecord stores one finished hand in the history table.
func (d *DB) AppendGameRecord(ctx context.Context, rec *models.GameRecord) error {
	payouts, err := json.Marshal(rec.Payouts)
	if err != nil {
		return fmt.Errorf("failed to marshal payouts: %w", err)
	}
	_, err = d.Pool.Exec(ctx, `
		INSERT INTO game_history (id, room_id, winners, payouts, pot, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.RoomID, rec.Winners, payouts, rec.Pot, rec.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to append game record: %w", err)
	}
	return nil
}
