package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/internal/store"
	"event-ticketing/models"
	"event-ticketing/monitoring"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentService struct {
	store         *store.Store
	catalog       *CatalogService
	issuance      *IssuanceService
	availability  *AvailabilityService
	notifications *NotificationService
	monitor       *monitoring.Monitor
	validate      *validator.Validate
	now           func() time.Time
}

func NewPaymentService(
	st *store.Store,
	catalog *CatalogService,
	issuance *IssuanceService,
	availability *AvailabilityService,
	notifications *NotificationService,
	monitor *monitoring.Monitor,
) *PaymentService {
	return &PaymentService{
		store:         st,
		catalog:       catalog,
		issuance:      issuance,
		availability:  availability,
		notifications: notifications,
		monitor:       monitor,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		now:           time.Now,
	}
}

type OrderItem struct {
	TierID   string `json:"tier_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type CreateOrderInput struct {
	UserID   string           `json:"-" validate:"required"`
	EventID  string           `json:"event_id" validate:"required"`
	Items    []OrderItem      `json:"items" validate:"required,min=1,dive"`
	Attendee *models.Attendee `json:"attendee,omitempty"`
}

type OrderReceipt struct {
	PaymentID       string               `json:"payment_id"`
	ExternalOrderID string               `json:"external_order_id"`
	Amount          decimal.Decimal      `json:"amount"`
	Currency        string               `json:"currency"`
	Status          models.PaymentStatus `json:"status"`
}

type ConfirmPaymentInput struct {
	ExternalOrderID   string
	ExternalPaymentID string
	Verified          bool
	// Amount is required when Verified. It and Currency, when set, must
	// match the order.
	Amount   *decimal.Decimal
	Currency string
}

type ConfirmResult struct {
	Payment   *models.Payment  `json:"payment"`
	Tickets   []*models.Ticket `json:"tickets"`
	Duplicate bool             `json:"duplicate"`
}

type OrderDetails struct {
	Payment *models.Payment  `json:"payment"`
	Tickets []*models.Ticket `json:"tickets"`
}

type ReconciliationReport struct {
	EventID  string                  `json:"event_id"`
	Payments []*models.Payment       `json:"payments"`
	Tiers    []store.TierTicketCount `json:"tiers"`
}

// CreateOrder prices the cart against the live tiers and freezes it into a
// pending payment. Capacity is not reserved here; the ledger is only touched
// on confirmation.
func (s *PaymentService) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderReceipt, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidCart, err)
	}

	event, err := s.store.FindEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventPublished {
		return nil, status.ErrEventNotOnSale
	}

	items := mergeItems(in.Items)
	cart := models.CartSnapshot{Version: models.CartSnapshotVersion, Attendee: in.Attendee}
	currency := ""
	for _, item := range items {
		tier, err := s.store.FindTier(ctx, item.TierID)
		if err != nil {
			return nil, err
		}
		switch {
		case tier.EventID != event.ID:
			return nil, fmt.Errorf("%w: tier %s does not belong to event %s", status.ErrInvalidCart, tier.ID, event.ID)
		case !tier.IsActive:
			return nil, status.ErrTierInactive
		case item.Quantity > tier.MaxPerOrder:
			return nil, fmt.Errorf("%w: at most %d tickets of %s per order", status.ErrInvalidCart, tier.MaxPerOrder, tier.Name)
		case item.Quantity > tier.Remaining():
			return nil, status.ErrSoldOut
		}
		if currency == "" {
			currency = tier.Currency
		} else if !strings.EqualFold(currency, tier.Currency) {
			return nil, status.ErrCurrencyMismatch
		}

		cart.Lines = append(cart.Lines, models.CartLine{
			TierID:    tier.ID,
			TierName:  tier.Name,
			Quantity:  item.Quantity,
			UnitPrice: tier.Price,
		})
	}

	now := s.now().UTC()
	payment := &models.Payment{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		EventID:         event.ID,
		Amount:          cart.Total(),
		Currency:        currency,
		TicketQuantity:  cart.TotalQuantity(),
		Status:          models.PaymentPending,
		Cart:            cart,
		ExternalOrderID: uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	slog.Info("order created", "payment_id", payment.ID, "event_id", event.ID, "user_id", in.UserID, "amount", payment.Amount.String())
	return &OrderReceipt{
		PaymentID:       payment.ID,
		ExternalOrderID: payment.ExternalOrderID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          payment.Status,
	}, nil
}

func mergeItems(items []OrderItem) []OrderItem {
	index := make(map[string]int, len(items))
	merged := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.TierID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.TierID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// ConfirmPayment applies a gateway notification. A verified notification
// issues tickets exactly once; repeats return the same tickets with
// Duplicate set. Money captured for a payment that can no longer issue is
// flagged for reconciliation and reported as ErrSettledAfterFail.
func (s *PaymentService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*ConfirmResult, error) {
	payment, err := s.store.FindPaymentByExternalOrderID(ctx, in.ExternalOrderID)
	if err != nil {
		return nil, err
	}

	if !in.Verified {
		return s.rejectPayment(ctx, payment, "payment not verified by gateway", false)
	}
	if in.Amount == nil {
		return nil, fmt.Errorf("%w: verified confirmation without amount", status.ErrInvalidInput)
	}

	if payment.Status == models.PaymentFailed || payment.Status == models.PaymentRefunded {
		return nil, s.settledAfterFailure(ctx, payment, in)
	}

	if !in.Amount.Equal(payment.Amount) || (in.Currency != "" && !strings.EqualFold(in.Currency, payment.Currency)) {
		if _, err := s.rejectPayment(ctx, payment, fmt.Sprintf("gateway reported %s %s", in.Amount.String(), in.Currency), true); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: expected %s %s", status.ErrAmountMismatch, payment.Amount.String(), payment.Currency)
	}

	started := s.now()
	issued, err := s.issuance.IssueTickets(ctx, payment.ID, in.ExternalPaymentID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrCapacityExceeded), errors.Is(err, status.ErrEventNotOnSale):
			outcome := monitoring.OutcomeFailed
			if errors.Is(err, status.ErrCapacityExceeded) {
				outcome = monitoring.OutcomeCapacityExceeded
			}
			s.monitor.TrackIssuance(payment.EventID, outcome, 0, 0)
			if flagErr := s.issuance.FlagForReconciliation(ctx, payment.ID, err); flagErr != nil {
				slog.Error("flag issuance failure", "payment_id", payment.ID, "error", flagErr)
			}
			return nil, err
		case errors.Is(err, status.ErrInvalidTransition):
			// Lost a race with a rejection that failed the payment.
			current, findErr := s.store.FindPayment(ctx, payment.ID)
			if findErr == nil && (current.Status == models.PaymentFailed || current.Status == models.PaymentRefunded) {
				return nil, s.settledAfterFailure(ctx, current, in)
			}
		}
		s.monitor.TrackIssuance(payment.EventID, monitoring.OutcomeFailed, 0, 0)
		return nil, err
	}

	payment, err = s.store.FindPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	if issued.Duplicate {
		s.monitor.TrackIssuance(payment.EventID, monitoring.OutcomeDuplicate, 0, 0)
		slog.Info("duplicate payment confirmation", "payment_id", payment.ID)
	} else {
		s.monitor.TrackIssuance(payment.EventID, monitoring.OutcomeIssued, len(issued.Tickets), s.now().Sub(started))
		s.availability.Invalidate(ctx, payment.EventID)
		s.notifications.TicketsIssued(ctx, payment, issued.Tickets)
		slog.Info("tickets issued", "payment_id", payment.ID, "event_id", payment.EventID, "count", len(issued.Tickets))
	}

	return &ConfirmResult{Payment: payment, Tickets: issued.Tickets, Duplicate: issued.Duplicate}, nil
}

// settledAfterFailure records a verified settlement for a payment that
// already failed. No tickets are issued; an operator refunds the buyer.
func (s *PaymentService) settledAfterFailure(ctx context.Context, payment *models.Payment, in ConfirmPaymentInput) error {
	if payment.Status == models.PaymentFailed {
		reason := fmt.Sprintf("gateway settled %s %s after the payment failed", in.Amount.String(), in.Currency)
		err := s.store.FlagSettledFailure(ctx, payment.ID, in.ExternalPaymentID, reason, s.now().UTC())
		if err != nil && !errors.Is(err, status.ErrStorageConflict) {
			return err
		}
	}
	s.monitor.TrackIssuance(payment.EventID, monitoring.OutcomeFailed, 0, 0)
	slog.Error("settlement for payment that is no longer pending",
		"payment_id", payment.ID, "status", payment.Status, "external_payment_id", in.ExternalPaymentID)
	return fmt.Errorf("%w: payment %s is %s", status.ErrSettledAfterFail, payment.ID, payment.Status)
}

// rejectPayment fails a pending payment. A payment that already left pending
// is returned unchanged.
func (s *PaymentService) rejectPayment(ctx context.Context, payment *models.Payment, reason string, reconcile bool) (*ConfirmResult, error) {
	if payment.Status == models.PaymentPending {
		err := s.store.MarkPaymentFailed(ctx, payment.ID, reason, reconcile, s.now().UTC())
		if err != nil && !errors.Is(err, status.ErrStorageConflict) {
			return nil, err
		}
		slog.Warn("payment rejected", "payment_id", payment.ID, "reason", reason)
	}

	current, err := s.store.FindPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTicketsByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Payment: current, Tickets: tickets}, nil
}

// GetOrder returns the payment and its tickets to the buyer.
func (s *PaymentService) GetOrder(ctx context.Context, paymentID, userID string) (*OrderDetails, error) {
	payment, err := s.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, status.ErrForbidden
	}
	tickets, err := s.store.ListTicketsByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &OrderDetails{Payment: payment, Tickets: tickets}, nil
}

// RefundPayment moves a completed or failed payment to refunded and refunds
// its unscanned tickets. Sold counts are not released.
func (s *PaymentService) RefundPayment(ctx context.Context, paymentID, userID string) (*OrderDetails, error) {
	payment, err := s.store.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.AuthorizeOrganizer(ctx, payment.EventID, userID); err != nil {
		return nil, err
	}
	if !payment.Status.CanTransitionTo(models.PaymentRefunded) {
		return nil, fmt.Errorf("%w: payment %s -> %s", status.ErrInvalidTransition, payment.Status, models.PaymentRefunded)
	}

	var refunded int64
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		now := s.now().UTC()
		if err := tx.UpdatePaymentStatus(ctx, paymentID, payment.Status, models.PaymentRefunded, now); err != nil {
			return err
		}
		refunded, err = tx.RefundTicketsByPayment(ctx, paymentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment refunded", "payment_id", paymentID, "tickets_refunded", refunded, "by", userID)
	return s.GetOrder(ctx, paymentID, payment.UserID)
}

func (s *PaymentService) ListReconciliation(ctx context.Context, eventID, userID string) (*ReconciliationReport, error) {
	if _, err := s.catalog.AuthorizeOrganizer(ctx, eventID, userID); err != nil {
		return nil, err
	}
	payments, err := s.store.ListPaymentsNeedingReconciliation(ctx, eventID)
	if err != nil {
		return nil, err
	}
	tiers, err := s.store.TierTicketCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &ReconciliationReport{EventID: eventID, Payments: payments, Tiers: tiers}, nil
}
