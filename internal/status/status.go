package status

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded   = errors.New("capacity: tier capacity exceeded")
	ErrSoldOut            = errors.New("capacity: tier sold out")
	ErrTierInactive       = errors.New("capacity: tier is not active")
	ErrTierNotFound       = errors.New("capacity: tier not found")
	ErrTicketNotFound     = errors.New("ticket: ticket not found")
	ErrStorageConflict    = errors.New("storage: conditional update affected no rows")
	ErrCodeSpaceExhausted = errors.New("ticket: could not generate a unique ticket code")

	ErrPaymentNotFound   = errors.New("payment: payment not found")
	ErrInvalidTransition = errors.New("status: invalid status transition")
	ErrInvalidCart       = errors.New("order: invalid cart")
	ErrCurrencyMismatch  = errors.New("order: cart mixes currencies")
	ErrAmountMismatch    = errors.New("payment: confirmed amount does not match order")
	ErrSettledAfterFail  = errors.New("payment: settlement received for a payment that is no longer pending")
	ErrUnverifiedWebhook = errors.New("payment: webhook signature invalid")

	ErrEventNotFound        = errors.New("event: event not found")
	ErrEventNotOnSale       = errors.New("event: event is not on sale")
	ErrOrganizationNotFound = errors.New("organization: organization not found")
	ErrForbidden            = errors.New("access: forbidden")
	ErrInvalidInput         = errors.New("request: invalid input")
)

// CapacityError reports which cart line failed its ledger reservation during
// issuance. It matches ErrCapacityExceeded and unwraps to the ledger cause.
type CapacityError struct {
	TierID string
	Cause  error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded for tier %s: %v", e.TierID, e.Cause)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

func (e *CapacityError) Unwrap() error {
	return e.Cause
}

// IsLedgerRejection reports whether err is one of the capacity ledger's
// business rejections rather than an infrastructure failure.
func IsLedgerRejection(err error) bool {
	return errors.Is(err, ErrSoldOut) || errors.Is(err, ErrTierInactive) || errors.Is(err, ErrTierNotFound)
}
