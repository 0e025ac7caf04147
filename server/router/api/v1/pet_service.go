package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/deskpet/store"
)

// PetService serves the public read of the pet persona.
type PetService struct {
	Store *store.Store
}

// GetPetConfig handles GET /api/pet/config. Missing fields come back as
// the documented defaults, so the desktop client always gets a full persona.
func (s *PetService) GetPetConfig(c echo.Context) error {
	cfg, err := s.Store.PetConfig.Get(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取宠物配置失败").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"config":  cfg,
	})
}
