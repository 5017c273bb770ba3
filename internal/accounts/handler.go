package accounts

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	TenantID string `json:"tenant_id"`
	OwnerID  string `json:"owner_id"`
	Tier     string `json:"tier"`
	Currency string `json:"currency"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Tier      string    `json:"tier"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
}

type entryResponse struct {
	ID             string          `json:"id"`
	Sequence       int64           `json:"sequence"`
	Type           model.EntryType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	HeldDelta      decimal.Decimal `json:"held_delta"`
	BufferDelta    decimal.Decimal `json:"buffer_delta"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	Reference      string          `json:"reference"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID: a.ID, TenantID: a.TenantID, OwnerID: a.OwnerID, Tier: a.Tier,
		Currency: a.Currency, Status: a.Status, Frozen: a.Frozen, CreatedAt: a.CreatedAt,
	}
}

// Open creates an account.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.service.Open(c.UserContext(), OpenInput{
		TenantID: req.TenantID, OwnerID: req.OwnerID, Tier: req.Tier, Currency: req.Currency,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toAccountResponse(account))
}

// Get returns account metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	account, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toAccountResponse(account))
}

// Balance returns the account balance view.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(balance)
}

// Entries returns the ledger history.
func (h *Handler) Entries(c *fiber.Ctx) error {
	entries, err := h.service.Entries(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID: e.ID, Sequence: e.Sequence, Type: e.Type, Amount: e.Amount, HeldDelta: e.HeldDelta,
			BufferDelta: e.BufferDelta, BalanceAfter: e.BalanceAfter, AvailableAfter: e.AvailableAfter,
			Reference: e.Reference, Description: e.Description, CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": out})
}

// Close closes an empty account.
func (h *Handler) Close(c *fiber.Ctx) error {
	account, err := h.service.Close(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toAccountResponse(account))
}
