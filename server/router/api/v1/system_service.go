package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/internal/profile"
	"github.com/hrygo/deskpet/store"
)

// SystemService serves the banner and health endpoints.
type SystemService struct {
	Profile  *profile.Profile
	Store    *store.Store
	Registry *llm.Registry
}

// GetServiceInfo handles GET /: a small banner with the endpoint index.
func (s *SystemService) GetServiceInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message": "🐱 桌面宠物 AI 聊天后端服务",
		"version": s.Profile.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"chat":        "/api/chat/message",
			"chat_stream": "/api/chat/stream",
		},
	})
}

// GetHealth handles GET /health with provider and store state.
func (s *SystemService) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().Format(time.RFC3339),
		"message":     "桌面宠物后端服务运行中",
		"ai_services": s.Registry.Info(),
		"store": map[string]any{
			"degraded": s.Store.Degraded(),
		},
	})
}
