// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account row in the relational store.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	Chips    int64     `json:"chips"`
}

// GameRecord is one finished hand appended to the historical game table.
type GameRecord struct {
	ID      uuid.UUID           `json:"id"`
	RoomID  string              `json:"roomId"`
	Winners []uuid.UUID         `json:"winners"`
	Payouts map[uuid.UUID]int64 `json:"payouts"`
	Pot     int64               `json:"pot"`
	EndedAt time.Time           `json:"endedAt"`
}
