package actors

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/streampay/internal/model"
)

// Handler exposes actor endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an actor HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	TenantID         string       `json:"tenant_id"`
	Kind             string       `json:"kind"`
	AccountID        string       `json:"account_id"`
	Name             string       `json:"name"`
	KYATier          string       `json:"kya_tier"`
	Limits           model.Limits `json:"limits"`
	ApprovedVendors  []string     `json:"approved_vendors"`
	CanManageStreams bool         `json:"can_manage_streams"`
}

type actorResponse struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenant_id"`
	Kind             string       `json:"kind"`
	AccountID        string       `json:"account_id"`
	Name             string       `json:"name"`
	KYATier          string       `json:"kya_tier"`
	Limits           model.Limits `json:"limits"`
	ApprovedVendors  []string     `json:"approved_vendors"`
	CanManageStreams bool         `json:"can_manage_streams"`
}

func toResponse(a model.Actor) actorResponse {
	return actorResponse{
		ID: a.ID, TenantID: a.TenantID, Kind: a.Kind, AccountID: a.AccountID, Name: a.Name,
		KYATier: a.KYATier, Limits: a.Limits, ApprovedVendors: a.ApprovedVendors, CanManageStreams: a.CanManageStreams,
	}
}

// Register handles actor onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	actor, err := h.service.Register(c.UserContext(), RegisterInput{
		TenantID: req.TenantID, Kind: req.Kind, AccountID: req.AccountID, Name: req.Name,
		KYATier: req.KYATier, Limits: req.Limits, ApprovedVendors: req.ApprovedVendors,
		CanManageStreams: req.CanManageStreams,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(actor))
}

// Get returns an actor and its policy.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(actor))
}
