package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketTier struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Quantity    int             `json:"quantity"`
	SoldCount   int             `json:"sold_count"`
	MaxPerOrder int             `json:"max_per_order"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Remaining is the number of units the capacity ledger can still reserve.
func (t *TicketTier) Remaining() int {
	if t.SoldCount >= t.Quantity {
		return 0
	}
	return t.Quantity - t.SoldCount
}

type TierAvailability struct {
	TierID    string          `json:"tier_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Remaining int             `json:"remaining"`
	IsActive  bool            `json:"is_active"`
}
