// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/auth"
	"github.com/dmitrsh/pokerroom/internal/models"
	"github.com/dmitrsh/pokerroom/internal/session"
	"github.com/dmitrsh/pokerroom/internal/validate"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Services bundles everything the socket handler dispatches into.
type Services struct {
	Hub          *session.Hub
	Rooms        *session.RoomService
	Orchestrator *session.Orchestrator
	Lifecycle    *session.Lifecycle
	Validator    *validate.Pipeline
	DB           session.Database
}

// joinRequest is the payload of room:join.
type joinRequest struct {
	RoomID   string  `json:"roomId"`
	Password *string `json:"password,omitempty"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type actionRequest struct {
	RoomID string              `json:"roomId"`
	Action models.PlayerAction `json:"action"`
}

type reconnectRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

// SessionWSHandler upgrades the HTTP connection to a WebSocket, authenticates
// the user via JWT, registers the connection with the hub and runs the
// read/write pumps until the socket drops.
func SessionWSHandler(logger *logrus.Logger, svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"poker"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "poker" {
			logger.Warnf("Client connected with invalid subprotocol: %s", c.Subprotocol())
			c.Close(websocket.StatusCode(BadSubprotocolError), "Client must use the 'poker' subprotocol.")
			return
		}

		token := auth.TokenFromRequest(r)
		userID, err := auth.AuthenticateJWT(token)
		if err != nil {
			logger.Warnf("WebSocket auth failed from %s: %v", r.RemoteAddr, err)
			c.Close(websocket.StatusCode(InvalidAuthTokenError), "Authentication failed.")
			return
		}

		user, err := svc.DB.GetUser(r.Context(), userID)
		if err != nil || user == nil {
			logger.Warnf("Unknown user %s on WebSocket connect: %v", userID, err)
			c.Close(websocket.StatusCode(InvalidAuthTokenError), "Authentication failed.")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := session.NewConn(userID, user.Username, cancel, logger)
		conn.OnReplaced = func() {
			c.Close(websocket.StatusCode(ConnectionReplaced), "Connection replaced by a newer session.")
		}
		svc.Hub.Register(conn)
		logger.Infof("WebSocket connection established for user %s (%s)", userID, user.Username)

		go writePump(ctx, c, conn, logger)

		readPump(ctx, c, conn, svc, logger)

		// a replaced connection must not mark the still-connected user
		// offline; only the current one runs the disconnect path, and it
		// runs before Unregister so the hub's room binding is still
		// available as a presence fallback
		if svc.Hub.IsCurrent(conn) {
			svc.Lifecycle.HandleDisconnect(context.Background(), userID)
		}
		svc.Hub.Unregister(conn)
		logger.Infof("WebSocket read loop exited for user %s", userID)
	}
}

// writePump drains the connection's outbound channel onto the socket and
// keeps the connection alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *session.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-conn.Out:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Errorf("Failed to marshal outbound event %s for user %s: %v", ev.Type, conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Failed to write %s to user %s: %v", ev.Type, conn.UserID, err)
				conn.Cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Infof("Ping failed for user %s, closing: %v", conn.UserID, err)
				conn.Cancel()
				return
			}
		}
	}
}

// readPump reads client events off the socket and dispatches them until the
// connection drops or the context is cancelled.
func readPump(ctx context.Context, c *websocket.Conn, conn *session.Conn, svc *Services, logger *logrus.Logger) {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Infof("WebSocket closed normally for user %s.", conn.UserID)
			} else if strings.Contains(err.Error(), "context canceled") {
				logger.Infof("WebSocket context canceled for user %s.", conn.UserID)
			} else {
				logger.Warnf("Error reading from WebSocket for user %s: %v (Status: %d)", conn.UserID, err, status)
			}
			return
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Received non-text message type %d from user %s. Ignoring.", msgType, conn.UserID)
			continue
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warnf("Invalid JSON from user %s: %v. Data: %s", conn.UserID, err, string(data))
			conn.SendError(models.CodeInvalidAction, "invalid JSON")
			continue
		}

		if !svc.Validator.AllowMessage(conn.UserID) {
			conn.SendError(models.CodeRateLimited, "too many messages")
			continue
		}

		dispatch(ctx, conn, svc, ev, logger)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dispatch routes one client event. Request/response events get a Response
// envelope echoed back under the request's own type. A panic anywhere in the
// pipeline is reported to the caller as a generic internal error instead of
// tearing down the socket.
func dispatch(ctx context.Context, conn *session.Conn, svc *Services, ev models.Event, logger *logrus.Logger) {
	userID := conn.UserID
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic handling '%s' for user %s: %v", ev.Type, userID, r)
			conn.Send(ev.Type, models.Fail(models.CodeInternalError, "internal server error"))
		}
	}()

	switch ev.Type {
	case "room:join":
		var req joinRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			conn.Send(ev.Type, models.Fail(models.CodeInvalidAction, "malformed join payload"))
			return
		}
		if v := svc.Validator.ValidateRoomJoin(userID, req.RoomID, req.Password); !v.Valid {
			conn.Send(ev.Type, models.Fail(v.Code, v.Message))
			return
		}
		view, err := svc.Rooms.Join(ctx, userID, req.RoomID, req.Password)
		if err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		conn.Send(ev.Type, models.OK(view))

	case "room:leave":
		var req roomRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			conn.Send(ev.Type, models.Fail(models.CodeInvalidAction, "malformed leave payload"))
			return
		}
		if err := svc.Rooms.Leave(ctx, userID, req.RoomID); err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		conn.Send(ev.Type, models.OK(map[string]any{"roomId": req.RoomID}))

	case "room:quick_start":
		res, err := svc.Rooms.QuickStart(ctx, userID)
		if err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		conn.Send(ev.Type, models.OK(res))

	case "game:ready":
		var req roomRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			conn.Send(ev.Type, models.Fail(models.CodeInvalidAction, "malformed ready payload"))
			return
		}
		view, err := svc.Orchestrator.ToggleReady(ctx, userID, req.RoomID)
		if err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		isReady := false
		if p, _ := view.FindPlayer(userID); p != nil {
			isReady = p.IsReady
		}
		conn.Send(ev.Type, models.OK(map[string]any{"isReady": isReady}))

	case "game:action":
		var req actionRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			conn.Send(ev.Type, models.Fail(models.CodeInvalidAction, "malformed action payload"))
			return
		}
		if v := svc.Validator.ValidatePlayerAction(ctx, userID, req.RoomID, req.Action); !v.Valid {
			conn.Send(ev.Type, models.Fail(v.Code, v.Message))
			return
		}
		outcome, err := svc.Orchestrator.ExecuteAction(ctx, userID, req.RoomID, req.Action)
		if err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		svc.Validator.RecordAction(ctx, userID, req.RoomID, req.Action)
		conn.Send(ev.Type, models.OK(outcome))

	case "game:restart":
		var req roomRequest
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			conn.Send(ev.Type, models.Fail(models.CodeInvalidAction, "malformed restart payload"))
			return
		}
		view, err := svc.Orchestrator.Restart(ctx, userID, req.RoomID)
		if err != nil {
			replyErr(conn, ev.Type, err, logger)
			return
		}
		conn.Send(ev.Type, models.OK(view))

	case "reconnect_attempt":
		var req reconnectRequest
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &req); err != nil {
				conn.Send("error", models.Fail(models.CodeReconnectFailed, "malformed reconnect payload"))
				return
			}
		}
		info, err := svc.Lifecycle.HandleReconnect(ctx, userID, req.RoomID)
		if err != nil {
			code, msg := session.CodeOf(err)
			conn.Send("error", models.Fail(code, msg))
			return
		}
		conn.Send("reconnected", models.OK(info))

	case "ping":
		conn.Send("pong", map[string]int64{"serverTimestamp": time.Now().UnixMilli()})

	default:
		logger.Warnf("Unknown event type '%s' from user %s.", ev.Type, userID)
		conn.SendError(models.CodeInvalidAction, "unknown event type: "+ev.Type)
	}
}

// replyErr turns a service error into a Response on the request's type.
// Uncoded errors are logged server-side and surfaced as INTERNAL_ERROR.
func replyErr(conn *session.Conn, reqType string, err error, logger *logrus.Logger) {
	code, msg := session.CodeOf(err)
	if code == models.CodeInternalError {
		logger.WithError(err).Errorf("%s failed for user %s", reqType, conn.UserID)
		msg = "internal server error"
	}
	conn.Send(reqType, models.Fail(code, msg))
}
