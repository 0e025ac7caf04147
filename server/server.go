// Package server wires the HTTP surface, the provider registry, and the
// background worker into one lifecycle object.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/deskpet/ai/llm"
	"github.com/hrygo/deskpet/ai/metrics"
	"github.com/hrygo/deskpet/ai/worker"
	"github.com/hrygo/deskpet/internal/profile"
	apiv1 "github.com/hrygo/deskpet/server/router/api/v1"
	"github.com/hrygo/deskpet/store"
)

type Server struct {
	Profile  *profile.Profile
	Store    *store.Store
	Registry *llm.Registry
	Worker   *worker.Worker

	echoServer *echo.Echo
	group      errgroup.Group
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	exporter.SetStoreDegraded(store.Degraded())

	registry := llm.BuildFromProfile(profile, exporter)
	if !registry.Available() {
		slog.Warn("starting without any llm provider; set SILICONFLOW_API_KEY or OPENAI_API_KEY")
	}

	s := &Server{
		Profile:    profile,
		Store:      store,
		Registry:   registry,
		Worker:     worker.New(store, registry, exporter, worker.DefaultConfig()),
		echoServer: echoServer,
	}

	apiV1Service := apiv1.NewAPIV1Service(profile, store, registry, exporter)
	apiV1Service.RegisterRoutes(echoServer)

	return s, nil
}

// Start launches the background worker and the HTTP listener. It returns
// immediately; the caller owns the wait-for-signal loop.
func (s *Server) Start(ctx context.Context) error {
	s.Worker.Start()

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.group.Go(func() error {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped unexpectedly", "error", err)
			return err
		}
		return nil
	})
	return nil
}

// Shutdown drains in-flight requests, stops the worker, and closes the
// store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}
	// Join the listener goroutine; its error was already logged.
	_ = s.group.Wait()

	// Stop joins the in-flight tick with its own bounded timeout.
	s.Worker.Stop()

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("deskpet stopped properly")
}
