package server

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pazarglobal/assistant/internal/chat"
)

// wsRequest is one chat turn over the WebSocket transport.
type wsRequest struct {
	Type     string `json:"type"` // "message" or "ping"
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
}

// websocket upgrades the connection and serves chat turns until the client
// disconnects. One connection maps to one session; the per-session lock in
// the assistant serializes turns regardless of transport.
func (h *ChatHandler) websocket(c echo.Context) error {
	sessionID := c.Param("session_id")
	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil // Accept already wrote the HTTP error
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	ctx := c.Request().Context()
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			return nil
		}
		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			// Treat unstructured frames as plain messages.
			req = wsRequest{Type: "message", Message: string(raw)}
		}
		switch req.Type {
		case "ping":
			if err := writeWS(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return nil
			}
		default:
			out := h.Assistant.HandleMessage(ctx, chat.Inbound{
				SessionID: sessionID,
				UserID:    req.UserID,
				Message:   req.Message,
				MediaRef:  req.MediaRef,
			})
			if err := writeWS(ctx, ws, out); err != nil {
				return nil
			}
		}
	}
}

func writeWS(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
