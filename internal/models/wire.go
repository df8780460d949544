// internal/models/wire.go
package models

import "encoding/json"

// Event is the envelope for every message crossing the websocket, in both
// directions. Data is left raw on the inbound path so each handler can decode
// its own payload shape.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutEvent is the outbound counterpart of Event with an already-materialized
// payload.
type OutEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Response is the reply shape every request event receives.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK builds a successful response carrying data.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Fail builds a rejected response with a stable error code and a
// human-readable message.
func Fail(code, message string) Response {
	return Response{Success: false, Error: code, Message: message}
}

// PlayerAction is the payload of a game:action request.
type PlayerAction struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount,omitempty"`
}
