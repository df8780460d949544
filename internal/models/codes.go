// internal/models/codes.go
package models

// Stable wire error codes. Clients match on these strings, so they must
// never change.
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
	CodeRoomFull             = "ROOM_FULL"
	CodeInvalidPassword      = "INVALID_PASSWORD"
	CodePlayerNotInRoom      = "PLAYER_NOT_IN_ROOM"
	CodeGameNotStarted       = "GAME_NOT_STARTED"
	CodeInvalidAction        = "INVALID_ACTION"
	CodeNotPlayerTurn        = "NOT_PLAYER_TURN"
	CodeInsufficientChips    = "INSUFFICIENT_CHIPS"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeForcedRoomLeave      = "FORCED_ROOM_LEAVE"
	CodeRoomAccessDenied     = "ROOM_ACCESS_DENIED"
	CodeReconnectFailed      = "RECONNECT_FAILED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeAlreadyInRoom        = "ALREADY_IN_ROOM"
)
