package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

type paymentRow struct {
	ID                  string        `db:"id"`
	UserID              string        `db:"user_id"`
	EventID             string        `db:"event_id"`
	Amount              string        `db:"amount"`
	Currency            string        `db:"currency"`
	TicketQuantity      int           `db:"ticket_quantity"`
	Status              string        `db:"status"`
	Metadata            string        `db:"metadata"`
	ExternalOrderID     string        `db:"external_order_id"`
	ExternalPaymentID   string        `db:"external_payment_id"`
	TicketsIssuedAt     sql.NullInt64 `db:"tickets_issued_at"`
	NeedsReconciliation bool          `db:"needs_reconciliation"`
	FailureReason       string        `db:"failure_reason"`
	CompletedAt         sql.NullInt64 `db:"completed_at"`
	CreatedAt           int64         `db:"created_at"`
	UpdatedAt           int64         `db:"updated_at"`
}

func (r paymentRow) toModel() (*models.Payment, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment %s amount %q: %w", r.ID, r.Amount, err)
	}
	cart, err := models.DecodeCartSnapshot(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", r.ID, err)
	}
	return &models.Payment{
		ID:                  r.ID,
		UserID:              r.UserID,
		EventID:             r.EventID,
		Amount:              amount,
		Currency:            r.Currency,
		TicketQuantity:      r.TicketQuantity,
		Status:              models.PaymentStatus(r.Status),
		Cart:                cart,
		ExternalOrderID:     r.ExternalOrderID,
		ExternalPaymentID:   r.ExternalPaymentID,
		TicketsIssuedAt:     fromNullMillis(r.TicketsIssuedAt),
		NeedsReconciliation: r.NeedsReconciliation,
		FailureReason:       r.FailureReason,
		CompletedAt:         fromNullMillis(r.CompletedAt),
		CreatedAt:           fromMillis(r.CreatedAt),
		UpdatedAt:           fromMillis(r.UpdatedAt),
	}, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	metadata, err := p.Cart.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrInvalidCart, err)
	}
	_, err = s.db.NewQuery(`INSERT INTO payments
		(id, user_id, event_id, amount, currency, ticket_quantity, status, metadata,
		 external_order_id, external_payment_id, needs_reconciliation, failure_reason, created_at, updated_at)
		VALUES ({:id}, {:user}, {:event}, {:amount}, {:currency}, {:qty}, {:status}, {:metadata},
		 {:ext_order}, '', 0, '', {:created}, {:updated})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":        p.ID,
			"user":      p.UserID,
			"event":     p.EventID,
			"amount":    p.Amount.String(),
			"currency":  p.Currency,
			"qty":       p.TicketQuantity,
			"status":    string(p.Status),
			"metadata":  metadata,
			"ext_order": p.ExternalOrderID,
			"created":   toMillis(p.CreatedAt),
			"updated":   toMillis(p.UpdatedAt),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) findPayment(ctx context.Context, column, value string) (*models.Payment, error) {
	var row paymentRow
	err := s.db.NewQuery("SELECT * FROM payments WHERE "+column+" = {:value}").
		WithContext(ctx).
		Bind(dbx.Params{"value": value}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return row.toModel()
}

func (s *Store) FindPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.findPayment(ctx, "id", id)
}

func (s *Store) FindPaymentByExternalOrderID(ctx context.Context, externalOrderID string) (*models.Payment, error) {
	return s.findPayment(ctx, "external_order_id", externalOrderID)
}

// ClaimIssuance completes a pending payment and sets its tickets-issued
// marker in one statement. It reports false when another caller already
// claimed the payment or it is no longer pending.
func (s *Store) ClaimIssuance(ctx context.Context, id, externalPaymentID string, now time.Time) (bool, error) {
	result, err := s.db.NewQuery(`UPDATE payments
		SET status = 'completed', tickets_issued_at = {:now}, completed_at = {:now},
		    external_payment_id = {:ext}, updated_at = {:now}
		WHERE id = {:id} AND status = 'pending' AND tickets_issued_at IS NULL`).
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "ext": externalPaymentID, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return false, fmt.Errorf("claim issuance: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkPaymentFailed moves a pending payment to failed. reconcile flags it for
// operator follow-up.
func (s *Store) MarkPaymentFailed(ctx context.Context, id, reason string, reconcile bool, now time.Time) error {
	result, err := s.db.NewQuery(`UPDATE payments
		SET status = 'failed', failure_reason = {:reason}, needs_reconciliation = {:reconcile}, updated_at = {:now}
		WHERE id = {:id} AND status = 'pending'`).
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "reason": reason, "reconcile": reconcile, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrStorageConflict
	}
	return nil
}

// FlagSettledFailure marks a failed payment for operator follow-up after the
// gateway reported money captured for it. An existing failure reason is kept.
func (s *Store) FlagSettledFailure(ctx context.Context, id, externalPaymentID, reason string, now time.Time) error {
	result, err := s.db.NewQuery(`UPDATE payments
		SET needs_reconciliation = 1,
		    failure_reason = CASE WHEN failure_reason = '' THEN {:reason} ELSE failure_reason END,
		    external_payment_id = CASE WHEN external_payment_id = '' THEN {:ext} ELSE external_payment_id END,
		    updated_at = {:now}
		WHERE id = {:id} AND status = 'failed'`).
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "ext": externalPaymentID, "reason": reason, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("flag settled failure: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrStorageConflict
	}
	return nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus, now time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: payment %s -> %s", status.ErrInvalidTransition, from, to)
	}
	result, err := s.db.NewQuery(`UPDATE payments SET status = {:to}, updated_at = {:now}
		WHERE id = {:id} AND status = {:from}`).
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "from": string(from), "to": string(to), "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrStorageConflict
	}
	return nil
}

func (s *Store) ListPaymentsNeedingReconciliation(ctx context.Context, eventID string) ([]*models.Payment, error) {
	var rows []paymentRow
	err := s.db.NewQuery(`SELECT * FROM payments
		WHERE event_id = {:event} AND needs_reconciliation = 1 AND status = 'failed'
		ORDER BY created_at`).
		WithContext(ctx).
		Bind(dbx.Params{"event": eventID}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation payments: %w", err)
	}
	payments := make([]*models.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}
