// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes. These give clients a more specific closure
// reason than the standard set.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	ConnectionReplaced    = 3004 // A newer connection for the same user took over.
)
