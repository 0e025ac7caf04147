package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/deskpet/store"
)

// SessionService exposes the session lifecycle endpoints.
type SessionService struct {
	Store *store.Store
}

// SessionView is the current-session payload: metadata plus the last few
// context messages.
type SessionView struct {
	SessionID     string              `json:"session_id"`
	Data          *store.Session      `json:"data"`
	RecentContext []store.ChatMessage `json:"recent_context"`
}

// GetCurrentSession handles GET /api/session/:user_id/current.
func (s *SessionService) GetCurrentSession(c echo.Context) error {
	rawID := c.Param("user_id")
	if rawID == "" {
		rawID = "default"
	}
	ctx := c.Request().Context()

	userID, err := s.Store.Users.GetOrCreateUserID(ctx, rawID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取会话失败").SetInternal(err)
	}

	sessionID, err := s.Store.Sessions.GetActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, map[string]any{"success": true, "session": nil})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "获取会话失败").SetInternal(err)
	}

	session, err := s.Store.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Pointer outlived the session hash; treat as no session.
			return c.JSON(http.StatusOK, map[string]any{"success": true, "session": nil})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "获取会话失败").SetInternal(err)
	}
	recent, err := s.Store.Sessions.GetContext(ctx, sessionID, 10)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取会话失败").SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"session": &SessionView{
			SessionID:     sessionID,
			Data:          session,
			RecentContext: recent,
		},
	})
}

// EndSession handles POST /api/session/:session_id/end. The session is
// closed and queued so the background worker summarizes it.
func (s *SessionService) EndSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	if _, err := s.Store.Sessions.Get(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "会话不存在")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "结束会话失败").SetInternal(err)
	}
	if err := s.Store.Sessions.End(ctx, sessionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "结束会话失败").SetInternal(err)
	}
	if err := s.Store.Sessions.MarkForSummary(ctx, sessionID); err != nil {
		// The session is already ended; losing the summary is tolerable.
		slog.Warn("failed to queue ended session for summary", "session", sessionID, "error", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "会话已结束，将进行总结",
	})
}

// GetSessionSummary handles GET /api/session/:session_id/summary.
func (s *SessionService) GetSessionSummary(c echo.Context) error {
	sessionID := c.Param("session_id")

	summary, err := s.Store.Sessions.GetSummary(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, map[string]any{
				"success": false,
				"message": "会话尚未总结或不存在",
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "获取会话总结失败").SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}
