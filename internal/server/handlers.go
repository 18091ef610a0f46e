package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/orchestrator"
	"github.com/quorumbi/quorum/internal/telemetry"
)

// Handler exposes the orchestration API.
type Handler struct {
	Orch      *orchestrator.Orchestrator
	Cache     *cache.Cache
	Telemetry *telemetry.Telemetry
}

// Register mounts the API endpoints under the given group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
	g.GET("/workers", h.workers)
	g.GET("/cache/stats", h.cacheStats)
	g.POST("/cache/clear", h.cacheClear)
	g.GET("/telemetry", h.telemetry)
}

type askRequest struct {
	Query     string   `json:"query"`
	History   []string `json:"history,omitempty"`
	SkipCache bool     `json:"skip_cache,omitempty"`
}

func (h *Handler) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	resp, err := h.Orch.Ask(c.Request().Context(), req.Query, orchestrator.Options{
		History:   req.History,
		SkipCache: req.SkipCache,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrAllWorkersFailed) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) workers(c echo.Context) error {
	reg := h.Orch.Registry()
	out := make([]map[string]string, 0)
	for _, id := range reg.IDs() {
		out = append(out, map[string]string{"id": id, "description": reg.Describe(id)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workers": out})
}

func (h *Handler) cacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Cache.Stats())
}

type cacheClearRequest struct {
	Tier string `json:"tier,omitempty"` // empty clears every tier
}

func (h *Handler) cacheClear(c echo.Context) error {
	var req cacheClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch cache.Tier(req.Tier) {
	case "", cache.TierReference, cache.TierWorker, cache.TierSynthesis, cache.TierFastAnswer:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown cache tier")
	}
	if err := h.Cache.Clear(c.Request().Context(), cache.Tier(req.Tier)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) telemetry(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.Snapshot())
}
