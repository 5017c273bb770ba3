// Package server assembles the HTTP application and its dependencies.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/streampay/internal/config"
	"github.com/congo-pay/streampay/internal/routes"
)

// Server wraps the Fiber application.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New builds the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, svc Services, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: routes.ErrorHandler(logger),
	})

	err := routes.Setup(app, routes.Deps{
		Cfg:      cfg,
		Logger:   logger,
		Cache:    b.Cache,
		Probes:   probes(b),
		Accounts: svc.Accounts,
		Actors:   svc.Actors,
		Streams:  svc.Streams,
		Payments: svc.Payments,
		Funding:  svc.Funding,
	})
	if err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: cfg}, nil
}

func probes(b Backends) map[string]routes.Probe {
	p := map[string]routes.Probe{"store": b.Store.Ping}
	if b.Cache != nil {
		p["redis"] = func(ctx context.Context) error { return b.Cache.Ping(ctx).Err() }
	}
	if pinger, ok := b.Events.(interface{ Ping(context.Context) error }); ok {
		p["nats"] = pinger.Ping
	}
	return p
}

// App exposes the fiber application for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
