// internal/session/deps.go
//
// Package session is the realtime core: the connection hub, the room
// membership service, the action orchestrator, the disconnect/reconnect
// protocol and the room lifecycle scheduler. Everything here mutates room
// snapshots only while holding the room's keyed lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrsh/pokerroom/internal/models"
)

// Database is the relational surface the session layer consumes.
// *database.DB satisfies it; tests plug in fakes.
type Database interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, r *models.Room) error
	UpdateRoomStatus(ctx context.Context, id, status string) error
	DeleteRoomIfWaiting(ctx context.Context, id string) (bool, error)
	ListStaleWaitingRooms(ctx context.Context, olderThan time.Duration) ([]models.Room, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	AdjustUserChips(ctx context.Context, id uuid.UUID, delta int64) error
	AppendGameRecord(ctx context.Context, rec *models.GameRecord) error
}

// PresenceRegistry is the slice of room.Presence the session layer uses.
type PresenceRegistry interface {
	CurrentRoom(ctx context.Context, userID uuid.UUID) (string, error)
	SetCurrentRoom(ctx context.Context, userID uuid.UUID, roomID string) error
	ClearCurrentRoom(ctx context.Context, userID uuid.UUID) error
	CheckAndHandleConflict(ctx context.Context, userID uuid.UUID, targetRoomID string) error
}

// CodedError pairs a stable wire error code with a human-readable message.
// Handlers map it straight onto the response envelope.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Coded builds a CodedError.
func Coded(code, message string) error {
	return &CodedError{Code: code, Message: message}
}

// CodeOf extracts the wire code from an error, defaulting to
// INTERNAL_ERROR for anything uncoded.
func CodeOf(err error) (code, message string) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	return models.CodeInternalError, "internal server error"
}
