package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ClientTxID    string          `json:"client_tx_id"`
	Vendor        string          `json:"vendor"`
	Description   string          `json:"description"`
}

// P2P processes an account-to-account transfer.
func (h *Handler) P2P(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	actorID, _ := c.Locals("actor_id").(string)

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		ClientTxID:    req.ClientTxID,
		ActorID:       actorID,
		Vendor:        req.Vendor,
		Description:   req.Description,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": res.Transfer.ID,
		"client_tx_id":   res.Transfer.ClientTxID,
		"from_available": res.FromAvailable,
		"to_available":   res.ToAvailable,
		"completed_at":   res.Transfer.CreatedAt.Format(time.RFC3339),
	})
}
