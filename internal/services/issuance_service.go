package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/internal/store"
	"event-ticketing/models"
	"event-ticketing/monitoring"
	"event-ticketing/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// IssuanceService turns a completed payment into tickets. The payment claim,
// every ledger reservation and every ticket row commit together or not at all.
type IssuanceService struct {
	store       *store.Store
	codes       utils.CodeGenerator
	maxAttempts int
	now         func() time.Time
}

func NewIssuanceService(st *store.Store, codes utils.CodeGenerator, maxAttempts int) *IssuanceService {
	if codes == nil {
		codes = utils.RandomCodes
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &IssuanceService{store: st, codes: codes, maxAttempts: maxAttempts, now: time.Now}
}

type IssueResult struct {
	Tickets   []*models.Ticket
	Duplicate bool
}

// IssueTickets claims the pending payment and issues one confirmed ticket per
// unit in its cart snapshot. Calling it again for an issued payment returns
// the existing tickets with Duplicate set.
func (s *IssuanceService) IssueTickets(ctx context.Context, paymentID, externalPaymentID string) (*IssueResult, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "issuance.IssueTickets")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	result := &IssueResult{}
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		now := s.now().UTC()

		claimed, err := tx.ClaimIssuance(ctx, paymentID, externalPaymentID, now)
		if err != nil {
			return err
		}

		payment, err := tx.FindPayment(ctx, paymentID)
		if err != nil {
			return err
		}

		if !claimed {
			if payment.TicketsIssuedAt == nil {
				return fmt.Errorf("%w: payment %s is %s", status.ErrInvalidTransition, paymentID, payment.Status)
			}
			tickets, err := tx.ListTicketsByPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			result.Tickets = tickets
			result.Duplicate = true
			return nil
		}

		event, err := tx.FindEvent(ctx, payment.EventID)
		if err != nil {
			return err
		}
		if event.Status != models.EventPublished {
			return fmt.Errorf("%w: event %s is %s", status.ErrEventNotOnSale, event.ID, event.Status)
		}

		for _, line := range payment.Cart.Lines {
			if err := tx.ReserveCapacity(ctx, line.TierID, line.Quantity, now); err != nil {
				if status.IsLedgerRejection(err) {
					return &status.CapacityError{TierID: line.TierID, Cause: err}
				}
				return err
			}
		}

		tickets := make([]*models.Ticket, 0, payment.Cart.TotalQuantity())
		for _, line := range payment.Cart.Lines {
			for i := 0; i < line.Quantity; i++ {
				ticket, err := s.insertTicket(ctx, tx, payment, line.TierID, now)
				if err != nil {
					return err
				}
				tickets = append(tickets, ticket)
			}
		}
		result.Tickets = tickets
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("tickets.count", len(result.Tickets)),
		attribute.Bool("issuance.duplicate", result.Duplicate),
	)
	return result, nil
}

func (s *IssuanceService) insertTicket(ctx context.Context, tx *store.Store, payment *models.Payment, tierID string, now time.Time) (*models.Ticket, error) {
	ticket := &models.Ticket{
		ID:           uuid.NewString(),
		TicketTierID: tierID,
		EventID:      payment.EventID,
		UserID:       payment.UserID,
		PaymentID:    payment.ID,
		Status:       models.TicketConfirmed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if a := payment.Cart.Attendee; a != nil {
		ticket.AttendeeName = a.Name
		ticket.AttendeeEmail = a.Email
		ticket.AttendeePhone = a.Phone
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, err
		}
		ticket.TicketCode = code

		inserted, err := tx.InsertTicket(ctx, ticket)
		if err != nil {
			return nil, err
		}
		if inserted {
			return ticket, nil
		}
		slog.Warn("ticket code collision", "attempt", attempt, "payment_id", payment.ID)
	}
	return nil, fmt.Errorf("%w after %d attempts", status.ErrCodeSpaceExhausted, s.maxAttempts)
}

// FlagForReconciliation marks a payment whose issuance was rejected, by the
// capacity ledger or a closed event, as failed and in need of an operator refund.
func (s *IssuanceService) FlagForReconciliation(ctx context.Context, paymentID string, cause error) error {
	var capErr *status.CapacityError
	reason := cause.Error()
	if errors.As(cause, &capErr) {
		reason = fmt.Sprintf("tier %s: %v", capErr.TierID, capErr.Cause)
	}

	err := s.store.MarkPaymentFailed(ctx, paymentID, reason, true, s.now().UTC())
	if err != nil {
		return fmt.Errorf("flag payment %s for reconciliation: %w", paymentID, err)
	}
	slog.Warn("payment flagged for reconciliation", "payment_id", paymentID, "reason", reason)
	return nil
}
