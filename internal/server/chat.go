package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pazarglobal/assistant/internal/chat"
	"github.com/pazarglobal/assistant/internal/session"
)

// ChatHandler exposes the assistant and the session lifecycle over HTTP.
type ChatHandler struct {
	Assistant *chat.Assistant
	Sessions  *session.Store
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/message", h.message)
	g.POST("/session", h.createSession)
	g.GET("/session/:id", h.getSession)
	g.DELETE("/session/:id", h.deleteSession)
	g.GET("/history/:id", h.history)
	g.GET("/ws/:session_id", h.websocket)
}

func (h *ChatHandler) message(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	out := h.Assistant.HandleMessage(c.Request().Context(), req.Inbound())
	return c.JSON(http.StatusOK, out)
}

func (h *ChatHandler) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	sess, err := h.Sessions.Create(c.Request().Context(), uuid.NewString(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: sess.ID, UserID: sess.UserID})
}

func (h *ChatHandler) getSession(c echo.Context) error {
	sess, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *ChatHandler) deleteSession(c echo.Context) error {
	if err := h.Sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) history(c echo.Context) error {
	msgs, err := h.Sessions.Messages(c.Request().Context(), c.Param("id"), 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": c.Param("id"), "messages": msgs})
}
