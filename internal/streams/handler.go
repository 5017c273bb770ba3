package streams

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

// Handler exposes stream HTTP endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler builds a stream HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type createRequest struct {
	SenderID          string              `json:"sender_id"`
	ReceiverID        string              `json:"receiver_id"`
	FlowRatePerMonth  decimal.Decimal     `json:"flow_rate_per_month"`
	FlowRatePerSecond decimal.Decimal     `json:"flow_rate_per_second"`
	InitialFunding    decimal.NullDecimal `json:"initial_funding"`
	Description       string              `json:"description"`
	ManagedBy         string              `json:"managed_by"`
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type withdrawRequest struct {
	Amount     decimal.NullDecimal `json:"amount"`
	ClientTxID string              `json:"client_tx_id"`
}

type streamResponse struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenant_id"`
	SenderID           string             `json:"sender_id"`
	ReceiverID         string             `json:"receiver_id"`
	ManagedBy          string             `json:"managed_by,omitempty"`
	Description        string             `json:"description,omitempty"`
	Status             model.StreamStatus `json:"status"`
	FlowRatePerMonth   decimal.Decimal    `json:"flow_rate_per_month"`
	FlowRatePerSecond  decimal.Decimal    `json:"flow_rate_per_second"`
	Wrapped            decimal.Decimal    `json:"wrapped"`
	Buffer             decimal.Decimal    `json:"buffer"`
	TotalStreamed      decimal.Decimal    `json:"total_streamed"`
	TotalWithdrawn     decimal.Decimal    `json:"total_withdrawn"`
	TotalPausedSeconds int64              `json:"total_paused_seconds"`
	// Health is the classification last persisted by the health monitor.
	// Live.Health is current as of the response.
	Health             model.Health       `json:"health"`
	RunwaySeconds      int64              `json:"runway_seconds"`
	StartedAt          time.Time          `json:"started_at"`
	PausedAt           *time.Time         `json:"paused_at,omitempty"`
	ResumedAt          *time.Time         `json:"resumed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	Live               *liveResponse      `json:"live,omitempty"`
}

type liveResponse struct {
	Streamed      decimal.Decimal `json:"streamed"`
	Available     decimal.Decimal `json:"available"`
	RunwaySeconds int64           `json:"runway_seconds"`
	Health        model.Health    `json:"health"`
	At            time.Time       `json:"at"`
}

type transferResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	FromID     string          `json:"from_id"`
	ToID       string          `json:"to_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference"`
	ClientTxID string          `json:"client_tx_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toStreamResponse(s model.Stream) streamResponse {
	return streamResponse{
		ID: s.ID, TenantID: s.TenantID, SenderID: s.SenderID, ReceiverID: s.ReceiverID,
		ManagedBy: s.ManagedBy, Description: s.Description, Status: s.Status,
		FlowRatePerMonth: s.FlowRatePerMonth, FlowRatePerSecond: s.FlowRatePerSecond,
		Wrapped: s.Funding.Wrapped, Buffer: s.Funding.Buffer,
		TotalStreamed: s.TotalStreamed, TotalWithdrawn: s.TotalWithdrawn, TotalPausedSeconds: s.TotalPausedSeconds,
		Health: s.Health, RunwaySeconds: s.RunwaySeconds,
		StartedAt: s.StartedAt, PausedAt: s.PausedAt, ResumedAt: s.ResumedAt, CancelledAt: s.CancelledAt,
	}
}

func (h *Handler) respond(c *fiber.Ctx, status int, s model.Stream) error {
	view := h.manager.View(s)
	resp := toStreamResponse(view.Stream)
	resp.Live = &liveResponse{
		Streamed:      view.Live.Streamed,
		Available:     view.Live.Available,
		RunwaySeconds: view.Live.RunwaySeconds,
		Health:        view.Live.Health,
		At:            view.Live.At,
	}
	return c.Status(status).JSON(resp)
}

func toTransferResponse(t model.Transfer) transferResponse {
	return transferResponse{
		ID: t.ID, Kind: t.Kind, FromID: t.FromID, ToID: t.ToID, Amount: t.Amount,
		Reference: t.Reference, ClientTxID: t.ClientTxID, CreatedAt: t.CreatedAt,
	}
}

func actorID(c *fiber.Ctx) string {
	id, _ := c.Locals("actor_id").(string)
	return id
}

// Create opens a funded stream.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	stream, err := h.manager.Create(c.UserContext(), CreateInput{
		SenderID:          req.SenderID,
		ReceiverID:        req.ReceiverID,
		FlowRatePerMonth:  req.FlowRatePerMonth,
		FlowRatePerSecond: req.FlowRatePerSecond,
		InitialFunding:    req.InitialFunding,
		Description:       req.Description,
		ManagedBy:         req.ManagedBy,
		ActorID:           actorID(c),
	})
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusCreated, stream)
}

// Get returns a stream with its live balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	view, err := h.manager.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, view.Stream)
}

// Events returns the stream audit trail.
func (h *Handler) Events(c *fiber.Ctx) error {
	evs, err := h.manager.Events(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": evs})
}

// Pause pauses an active stream.
func (h *Handler) Pause(c *fiber.Ctx) error {
	stream, err := h.manager.Pause(c.UserContext(), c.Params("id"), actorID(c))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, stream)
}

// Resume resumes a paused stream.
func (h *Handler) Resume(c *fiber.Ctx) error {
	stream, err := h.manager.Resume(c.UserContext(), c.Params("id"), actorID(c))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, stream)
}

// Cancel terminates a stream.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	stream, err := h.manager.Cancel(c.UserContext(), c.Params("id"), actorID(c))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, stream)
}

// TopUp adds funding to a stream.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	stream, err := h.manager.TopUp(c.UserContext(), c.Params("id"), req.Amount, actorID(c))
	if err != nil {
		return err
	}
	return h.respond(c, http.StatusOK, stream)
}

// Withdraw moves accrued funds to the receiver.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	transfer, err := h.manager.Withdraw(c.UserContext(), WithdrawInput{
		StreamID:   c.Params("id"),
		Amount:     req.Amount,
		ActorID:    actorID(c),
		ClientTxID: req.ClientTxID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toTransferResponse(transfer))
}
