package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestMessageEndpointRejectsBlankMessage(t *testing.T) {
	e := echo.New()
	h := &ChatHandler{}

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message",
		strings.NewReader(`{"session_id": "s1", "message": "   "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.message(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestMessageEndpointRejectsBadJSON(t *testing.T) {
	e := echo.New()
	h := &ChatHandler{}

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.message(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Now()

	if !isDue("@hourly", time.Time{}) {
		t.Errorf("zero last run must be due")
	}
	if isDue("@hourly", now.Add(-30*time.Minute)) {
		t.Errorf("half an hour after an hourly sweep must not be due")
	}
	if !isDue("@hourly", now.Add(-2*time.Hour)) {
		t.Errorf("two hours after an hourly sweep must be due")
	}
	if isDue("@daily", now.Add(-time.Hour)) {
		t.Errorf("an hour after a daily sweep must not be due")
	}
	// Standard cron: every 15 minutes.
	if !isDue("*/15 * * * *", now.Add(-time.Hour)) {
		t.Errorf("cron window elapsed, must be due")
	}
	// Unparseable specs fall back to hourly.
	if isDue("not-a-cron", now.Add(-time.Minute)) {
		t.Errorf("fallback must not fire within the hour")
	}
}
