package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentCompleted, PaymentFailed},
	PaymentCompleted: {PaymentRefunded},
	PaymentFailed:    {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return allowed(paymentTransitions[s], next)
}

type Payment struct {
	ID                  string          `json:"payment_id"`
	UserID              string          `json:"user_id"`
	EventID             string          `json:"event_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	TicketQuantity      int             `json:"ticket_quantity"`
	Status              PaymentStatus   `json:"status"`
	Cart                CartSnapshot    `json:"cart"`
	ExternalOrderID     string          `json:"external_order_id"`
	ExternalPaymentID   string          `json:"external_payment_id,omitempty"`
	TicketsIssuedAt     *time.Time      `json:"tickets_issued_at,omitempty"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

const CartSnapshotVersion = 1

// CartSnapshot is frozen into the payment at order creation. Issuance reads
// these lines and prices, never the live tier rows.
type CartSnapshot struct {
	Version  int        `json:"version"`
	Lines    []CartLine `json:"lines"`
	Attendee *Attendee  `json:"attendee,omitempty"`
}

type CartLine struct {
	TierID    string          `json:"tier_id"`
	TierName  string          `json:"tier_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Attendee struct {
	Name  string `json:"name" validate:"omitempty,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

func (c CartSnapshot) TotalQuantity() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

func (c CartSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func (c CartSnapshot) Validate() error {
	if c.Version != CartSnapshotVersion {
		return fmt.Errorf("unsupported cart snapshot version %d", c.Version)
	}
	if len(c.Lines) == 0 {
		return errors.New("cart snapshot has no lines")
	}
	for i, line := range c.Lines {
		if line.TierID == "" {
			return fmt.Errorf("cart line %d has no tier", i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("cart line %d has quantity %d", i, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("cart line %d has a negative price", i)
		}
	}
	return nil
}

func (c CartSnapshot) Encode() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodeCartSnapshot(raw string) (CartSnapshot, error) {
	var c CartSnapshot
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return CartSnapshot{}, fmt.Errorf("decode cart snapshot: %w", err)
	}
	if err := c.Validate(); err != nil {
		return CartSnapshot{}, err
	}
	return c, nil
}
