package funding

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/store"
)

// Handler exposes HTTP endpoints for deposits and payouts.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type request struct {
	Instrument string          `json:"instrument"`
	Amount     decimal.Decimal `json:"amount"`
	ClientTxID string          `json:"client_tx_id"`
}

type response struct {
	TransactionID     string          `json:"transaction_id"`
	Status            string          `json:"status"`
	Available         decimal.Decimal `json:"available"`
	AcquirerReference string          `json:"acquirer_reference"`
	CompletedAt       time.Time       `json:"completed_at"`
}

// Deposit credits the account from an external instrument.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.handle(c, h.service.Deposit)
}

// Payout debits the account to an external instrument.
func (h *Handler) Payout(c *fiber.Ctx) error {
	return h.handle(c, h.service.Payout)
}

func (h *Handler) handle(c *fiber.Ctx, op func(context.Context, Input) (Result, error)) error {
	var req request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := op(c.UserContext(), Input{
		AccountID:  c.Params("id"),
		Amount:     req.Amount,
		ClientTxID: req.ClientTxID,
		Instrument: req.Instrument,
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		return c.Status(http.StatusOK).JSON(toResponse(result))
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

func toResponse(r Result) response {
	return response{
		TransactionID:     r.TransactionID,
		Status:            r.Status,
		Available:         r.Available,
		AcquirerReference: r.AcquirerReference,
		CompletedAt:       r.CompletedAt,
	}
}
