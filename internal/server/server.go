package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/orchestrator"
	"github.com/quorumbi/quorum/internal/telemetry"
	"github.com/quorumbi/quorum/provider"
)

// Run wires the full pipeline from config and serves the HTTP API until the
// context is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	chain, err := provider.NewChain(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building provider chain: %w", err)
	}
	c, err := cache.New(ctx, cfg.Cache, nil)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}
	tel := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer)
	if fb, ok := chain.(*provider.Fallback); ok {
		fb.OnFallback = tel.RecordProviderFallback
	}
	orch := orchestrator.New(cfg, chain, c, tel)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, ec echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := ec.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, ec.RealIP(), err)
		if !ec.Response().Committed {
			_ = ec.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(ec echo.Context) error { return ec.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h := &Handler{Orch: orch, Cache: c, Telemetry: tel}
	h.Register(e.Group("/api"))

	go func() {
		<-ctx.Done()
		_ = e.Shutdown(context.Background())
	}()

	logger.Printf("listening on %s", cfg.Server.Address)
	if err := e.Start(cfg.Server.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
