package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/streampay/internal/accounts"
	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/funding"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/middleware"
	"github.com/congo-pay/streampay/internal/payments"
	"github.com/congo-pay/streampay/internal/store"
	"github.com/congo-pay/streampay/internal/streams"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail any    `json:"detail,omitempty"`
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{actors.ErrNotFound, http.StatusNotFound, "not_found"},
	{limits.ErrPolicyViolation, http.StatusForbidden, "policy_violation"},
	{streams.ErrUnauthorizedManager, http.StatusForbidden, "unauthorized_manager"},
	{payments.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{streams.ErrFundingBelowMinimum, http.StatusUnprocessableEntity, "funding_below_minimum"},
	{streams.ErrExceedsAvailable, http.StatusUnprocessableEntity, "exceeds_available"},
	{ledger.ErrInsufficientAvailableBalance, http.StatusUnprocessableEntity, "insufficient_available_balance"},
	{ledger.ErrInsufficientHeldBalance, http.StatusUnprocessableEntity, "insufficient_held_balance"},
	{funding.ErrDeclined, http.StatusPaymentRequired, "declined"},
	{streams.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{store.ErrDuplicateTransaction, http.StatusConflict, "duplicate_transaction"},
	{store.ErrAccountExists, http.StatusConflict, "account_exists"},
	{accounts.ErrOpenStreams, http.StatusConflict, "open_streams"},
	{accounts.ErrUnsettledStreams, http.StatusConflict, "unsettled_streams"},
	{accounts.ErrNonZeroBalance, http.StatusConflict, "non_zero_balance"},
	{ledger.ErrAccountFrozen, http.StatusLocked, "account_frozen"},
	{ledger.ErrAccountClosed, http.StatusConflict, "account_closed"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidBuffer, http.StatusBadRequest, "invalid_buffer"},
	{streams.ErrInvalidFlowRate, http.StatusBadRequest, "invalid_flow_rate"},
	{streams.ErrSameAccount, http.StatusBadRequest, "same_account"},
	{payments.ErrSameAccount, http.StatusBadRequest, "same_account"},
	{streams.ErrTenantMismatch, http.StatusBadRequest, "tenant_mismatch"},
	{payments.ErrTenantMismatch, http.StatusBadRequest, "tenant_mismatch"},
	{actors.ErrTenantMismatch, http.StatusBadRequest, "tenant_mismatch"},
	{actors.ErrInvalidKind, http.StatusBadRequest, "invalid_kind"},
	{accounts.ErrTenantRequired, http.StatusBadRequest, "tenant_required"},
	{funding.ErrInvalidInstrument, http.StatusBadRequest, "invalid_instrument"},
}

// ErrorHandler renders domain errors as JSON with a stable code.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			reqID, _ := c.Locals(middleware.RequestIDKey).(string)
			logger.Error("request failed",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
		}
		return c.Status(status).JSON(body)
	}
}

func classify(err error) (int, errorBody) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, errorBody{Error: fe.Message, Code: http.StatusText(fe.Code)}
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, errorBody{Error: err.Error(), Code: m.code, Detail: detail(err)}
		}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
}

func detail(err error) any {
	var pv *limits.PolicyViolation
	if errors.As(err, &pv) {
		return pv
	}
	var fb *streams.FundingBelowMinimumError
	if errors.As(err, &fb) {
		return fb
	}
	var ea *streams.ExceedsAvailableError
	if errors.As(err, &ea) {
		return ea
	}
	return nil
}
