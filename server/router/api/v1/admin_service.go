package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/deskpet/store"
)

// AdminService is the token-guarded management surface for the pet persona
// and service totals. The routes only exist when ADMIN_TOKEN is configured.
type AdminService struct {
	Store *store.Store
}

// GetPetConfig handles GET /api/admin/pet/config.
func (s *AdminService) GetPetConfig(c echo.Context) error {
	cfg, err := s.Store.PetConfig.Get(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取宠物配置失败").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "config": cfg})
}

// UpdatePetConfig handles PUT /api/admin/pet/config. Only known fields are
// written; the response reports which ones changed.
func (s *AdminService) UpdatePetConfig(c echo.Context) error {
	body := map[string]any{}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "无效的配置数据").SetInternal(err)
	}

	fields := make(map[string]string, len(body))
	for key, value := range body {
		switch v := value.(type) {
		case string:
			fields[key] = v
		case bool:
			fields[key] = strconv.FormatBool(v)
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}

	ctx := c.Request().Context()
	updated, err := s.Store.PetConfig.Update(ctx, fields)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "更新宠物配置失败").SetInternal(err)
	}

	cfg, err := s.Store.PetConfig.Get(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "更新宠物配置失败").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":        true,
		"updated_fields": updated,
		"config":         cfg,
	})
}

// ResetPetConfig handles POST /api/admin/pet/config/reset.
func (s *AdminService) ResetPetConfig(c echo.Context) error {
	cfg, err := s.Store.PetConfig.Reset(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "重置宠物配置失败").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "config": cfg})
}

// GetStats handles GET /api/admin/stats.
func (s *AdminService) GetStats(c echo.Context) error {
	ctx := c.Request().Context()

	users, err := s.Store.Users.CountUsers(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取统计失败").SetInternal(err)
	}
	sessions, messages, err := s.Store.Sessions.Stats(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取统计失败").SetInternal(err)
	}
	cfg, err := s.Store.PetConfig.Get(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取统计失败").SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"total_users":         users,
			"total_sessions":      sessions,
			"total_messages":      messages,
			"config_last_updated": cfg.LastUpdated,
		},
	})
}
