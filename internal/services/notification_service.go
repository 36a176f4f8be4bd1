package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/models"
	"event-ticketing/utils"

	pubnub "github.com/pubnub/go"
)

// Publisher pushes a message onto a real-time channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// PubNubPublisher publishes through PubNub behind a circuit breaker so an
// outage does not stall issuance or scanning.
type PubNubPublisher struct {
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubPublisher(pn *pubnub.PubNub, breaker *utils.CircuitBreaker) *PubNubPublisher {
	return &PubNubPublisher{pn: pn, breaker: breaker}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, err := p.breaker.Execute(ctx, func() (any, error) {
		_, _, err := p.pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		return nil, err
	})
	return err
}

func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func GateChannel(eventID string) string {
	return fmt.Sprintf("event-%s-gate", eventID)
}

// NotificationService fans domain events out to buyers and gate staff.
// Delivery is best effort: failures are logged and never returned.
type NotificationService struct {
	publisher Publisher
}

func NewNotificationService(publisher Publisher) *NotificationService {
	return &NotificationService{publisher: publisher}
}

func (n *NotificationService) TicketsIssued(ctx context.Context, payment *models.Payment, tickets []*models.Ticket) {
	if n == nil || n.publisher == nil {
		return
	}

	codes := make([]string, 0, len(tickets))
	for _, t := range tickets {
		codes = append(codes, t.TicketCode)
	}

	err := n.publisher.Publish(ctx, UserChannel(payment.UserID), map[string]any{
		"type":         "tickets_issued",
		"payment_id":   payment.ID,
		"event_id":     payment.EventID,
		"ticket_codes": codes,
	})
	if err != nil {
		slog.Error("publish tickets_issued", "payment_id", payment.ID, "error", err)
	}
}

func (n *NotificationService) ScanRecorded(ctx context.Context, eventID string, outcome *models.ScanOutcome, at time.Time) {
	if n == nil || n.publisher == nil {
		return
	}

	msg := map[string]any{
		"type":        "scan_recorded",
		"event_id":    eventID,
		"scan_result": string(outcome.Result),
		"scanned_at":  at.UTC().Format(time.RFC3339),
	}
	if outcome.Ticket != nil {
		msg["ticket_id"] = outcome.Ticket.ID
	}

	if err := n.publisher.Publish(ctx, GateChannel(eventID), msg); err != nil {
		slog.Error("publish scan_recorded", "event_id", eventID, "error", err)
	}
}
