package v1

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/deskpet/ai/analysis"
	"github.com/hrygo/deskpet/store"
)

// BehaviorService records desktop interaction events and serves the derived
// analysis views.
type BehaviorService struct {
	Store *store.Store
}

// BehaviorRequest is one reported interaction event.
type BehaviorRequest struct {
	UserID       string         `json:"user_id,omitempty"`
	BehaviorType string         `json:"behavior_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BehaviorBatchRequest is the client-side queue flush payload.
type BehaviorBatchRequest struct {
	Behaviors []BehaviorRequest `json:"behaviors"`
}

func (s *BehaviorService) resolveUser(c echo.Context, rawID string) (string, error) {
	if rawID == "" {
		rawID = "default"
	}
	return s.Store.Users.GetOrCreateUserID(c.Request().Context(), rawID)
}

// RecordBehavior handles POST /api/behavior.
func (s *BehaviorService) RecordBehavior(c echo.Context) error {
	req := &BehaviorRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "无效的行为数据").SetInternal(err)
	}
	if req.BehaviorType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "behavior_type 不能为空")
	}

	userID, err := s.resolveUser(c, req.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "记录行为失败").SetInternal(err)
	}
	if err := s.Store.Users.RecordBehavior(c.Request().Context(), userID, req.BehaviorType, req.Metadata); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "记录行为失败").SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// RecordBehaviorBatch handles POST /api/behaviors/batch. Invalid entries are
// skipped rather than failing the whole batch; the client re-queues on
// non-2xx only.
func (s *BehaviorService) RecordBehaviorBatch(c echo.Context) error {
	req := &BehaviorBatchRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "无效的行为数据").SetInternal(err)
	}

	recorded := 0
	for _, b := range req.Behaviors {
		if b.BehaviorType == "" {
			continue
		}
		userID, err := s.resolveUser(c, b.UserID)
		if err != nil {
			continue
		}
		if err := s.Store.Users.RecordBehavior(c.Request().Context(), userID, b.BehaviorType, b.Metadata); err != nil {
			continue
		}
		recorded++
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"recorded": recorded,
		"total":    len(req.Behaviors),
	})
}

// GetBehaviorAnalysis handles GET /api/behavior/analysis/:user_id with the
// full derived report.
func (s *BehaviorService) GetBehaviorAnalysis(c echo.Context) error {
	userID, err := s.resolveUser(c, c.Param("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "行为分析失败").SetInternal(err)
	}

	events, err := s.Store.Users.GetBehaviors(c.Request().Context(), userID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "行为分析失败").SetInternal(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"analysis": analysis.BehaviorSummary(events, time.Now()),
	})
}

// GetBehaviorStats handles GET /api/behavior/stats/:user_id with plain
// counts and the five most frequent event types.
func (s *BehaviorService) GetBehaviorStats(c echo.Context) error {
	userID, err := s.resolveUser(c, c.Param("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取行为统计失败").SetInternal(err)
	}

	events, err := s.Store.Users.GetBehaviors(c.Request().Context(), userID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "获取行为统计失败").SetInternal(err)
	}

	counts := analysis.TypeCounts(events)
	type typeCount struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}
	top := make([]typeCount, 0, len(counts))
	for t, n := range counts {
		top = append(top, typeCount{Type: t, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"total_behaviors": len(events),
		"by_type":         counts,
		"top_behaviors":   top,
	})
}
