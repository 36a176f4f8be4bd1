package models

import (
	"time"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketConfirmed TicketStatus = "confirmed"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
	TicketScanned   TicketStatus = "scanned"
)

// scanned has no outgoing transitions.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketPending:   {TicketConfirmed, TicketCancelled},
	TicketConfirmed: {TicketScanned, TicketCancelled, TicketRefunded},
}

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	return allowed(ticketTransitions[s], next)
}

// Sources lists every status that may legally move to s.
func (s TicketStatus) Sources() []TicketStatus {
	var out []TicketStatus
	for _, from := range []TicketStatus{TicketPending, TicketConfirmed, TicketCancelled, TicketRefunded, TicketScanned} {
		if from.CanTransitionTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// Admits reports whether a ticket in status s may pass a gate. Pending
// tickets pass only when the gate accepts unpaid tickets.
func (s TicketStatus) Admits(allowPending bool) bool {
	return s.CanTransitionTo(TicketScanned) || (allowPending && s == TicketPending)
}

type Ticket struct {
	ID              string       `json:"id"`
	TicketTierID    string       `json:"ticket_tier_id"`
	EventID         string       `json:"event_id"`
	UserID          string       `json:"user_id"`
	PaymentID       string       `json:"payment_id,omitempty"`
	TicketCode      string       `json:"ticket_code"`
	Status          TicketStatus `json:"status"`
	ScannedAt       *time.Time   `json:"scanned_at,omitempty"`
	ScannedByUserID string       `json:"scanned_by_user_id,omitempty"`
	AttendeeName    string       `json:"attendee_name,omitempty"`
	AttendeeEmail   string       `json:"attendee_email,omitempty"`
	AttendeePhone   string       `json:"attendee_phone,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
