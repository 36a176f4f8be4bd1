package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"event-ticketing/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// apiError maps service sentinels to PocketBase API errors. Anything it does
// not recognise is logged and reported as a 500 without details.
func apiError(op string, err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidCart),
		errors.Is(err, status.ErrInvalidInput),
		errors.Is(err, status.ErrCurrencyMismatch):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrUnverifiedWebhook):
		return apis.NewUnauthorizedError("Invalid signature", nil)
	case errors.Is(err, status.ErrForbidden):
		return apis.NewForbiddenError("Access denied", nil)
	case errors.Is(err, status.ErrEventNotFound),
		errors.Is(err, status.ErrTierNotFound),
		errors.Is(err, status.ErrPaymentNotFound),
		errors.Is(err, status.ErrTicketNotFound),
		errors.Is(err, status.ErrOrganizationNotFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case errors.Is(err, status.ErrCapacityExceeded),
		errors.Is(err, status.ErrSoldOut),
		errors.Is(err, status.ErrTierInactive),
		errors.Is(err, status.ErrEventNotOnSale),
		errors.Is(err, status.ErrInvalidTransition),
		errors.Is(err, status.ErrAmountMismatch),
		errors.Is(err, status.ErrSettledAfterFail),
		errors.Is(err, status.ErrStorageConflict):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	}

	slog.Error(op, "error", err)
	return apis.NewInternalServerError("Internal error", nil)
}

func authUserID(e *core.RequestEvent) (string, error) {
	if e.Auth == nil {
		return "", apis.NewUnauthorizedError("Unauthorized", nil)
	}
	return e.Auth.Id, nil
}
