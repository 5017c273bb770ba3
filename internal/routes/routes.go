// Package routes wires middleware and HTTP handlers onto the Fiber app.
package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/streampay/internal/accounts"
	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/config"
	"github.com/congo-pay/streampay/internal/funding"
	"github.com/congo-pay/streampay/internal/middleware"
	"github.com/congo-pay/streampay/internal/payments"
	"github.com/congo-pay/streampay/internal/streams"
)

// Deps aggregates shared dependencies required to wire routes. Cache is
// optional; without it rate limiting and idempotency are disabled.
type Deps struct {
	Cfg    config.Config
	Logger *slog.Logger
	Cache  *redis.Client
	Probes map[string]Probe

	Accounts *accounts.Service
	Actors   *actors.Service
	Streams  *streams.Manager
	Payments *payments.Service
	Funding  *funding.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Actor(d.Cfg.RequireActor))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.ActorRateLimit(d.Cache, d.Cfg.RateLimitPerMin))
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d.Probes)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDKey).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accounts.NewHandler(d.Accounts), funding.NewHandler(d.Funding))
	RegisterActorRoutes(api, actors.NewHandler(d.Actors))
	RegisterTransferRoutes(api, payments.NewHandler(d.Payments))
	RegisterStreamRoutes(api, streams.NewHandler(d.Streams))
	return nil
}

// RegisterAccountRoutes wires account, deposit and payout endpoints.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler, f *funding.Handler) {
	r.Post("/accounts", h.Open)
	r.Get("/accounts/:id", h.Get)
	r.Get("/accounts/:id/balance", h.Balance)
	r.Get("/accounts/:id/entries", h.Entries)
	r.Post("/accounts/:id/close", h.Close)
	r.Post("/accounts/:id/deposits", f.Deposit)
	r.Post("/accounts/:id/payouts", f.Payout)
}

// RegisterActorRoutes wires actor registration.
func RegisterActorRoutes(r fiber.Router, h *actors.Handler) {
	r.Post("/actors", h.Register)
	r.Get("/actors/:id", h.Get)
}

// RegisterTransferRoutes wires one-off transfers.
func RegisterTransferRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/transfers", h.P2P)
}

// RegisterStreamRoutes wires the stream lifecycle.
func RegisterStreamRoutes(r fiber.Router, h *streams.Handler) {
	r.Post("/streams", h.Create)
	r.Get("/streams/:id", h.Get)
	r.Get("/streams/:id/events", h.Events)
	r.Post("/streams/:id/pause", h.Pause)
	r.Post("/streams/:id/resume", h.Resume)
	r.Post("/streams/:id/cancel", h.Cancel)
	r.Post("/streams/:id/top-up", h.TopUp)
	r.Post("/streams/:id/withdraw", h.Withdraw)
}
