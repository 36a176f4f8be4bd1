package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/pocketbase/dbx"
)

const ticketColumns = `t.id, t.ticket_tier_id, tt.event_id, t.user_id, t.payment_id, t.ticket_code, t.status,
	t.scanned_at, t.scanned_by_user_id, t.attendee_name, t.attendee_email, t.attendee_phone,
	t.created_at, t.updated_at, e.status AS event_status`

const ticketJoin = ` FROM tickets t
	JOIN ticket_tiers tt ON tt.id = t.ticket_tier_id
	JOIN events e ON e.id = tt.event_id`

type ticketRow struct {
	ID              string        `db:"id"`
	TicketTierID    string        `db:"ticket_tier_id"`
	EventID         string        `db:"event_id"`
	UserID          string        `db:"user_id"`
	PaymentID       string        `db:"payment_id"`
	TicketCode      string        `db:"ticket_code"`
	Status          string        `db:"status"`
	ScannedAt       sql.NullInt64 `db:"scanned_at"`
	ScannedByUserID string        `db:"scanned_by_user_id"`
	AttendeeName    string        `db:"attendee_name"`
	AttendeeEmail   string        `db:"attendee_email"`
	AttendeePhone   string        `db:"attendee_phone"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
	EventStatus     string        `db:"event_status"`
}

func (r ticketRow) toModel() *models.Ticket {
	return &models.Ticket{
		ID:              r.ID,
		TicketTierID:    r.TicketTierID,
		EventID:         r.EventID,
		UserID:          r.UserID,
		PaymentID:       r.PaymentID,
		TicketCode:      r.TicketCode,
		Status:          models.TicketStatus(r.Status),
		ScannedAt:       fromNullMillis(r.ScannedAt),
		ScannedByUserID: r.ScannedByUserID,
		AttendeeName:    r.AttendeeName,
		AttendeeEmail:   r.AttendeeEmail,
		AttendeePhone:   r.AttendeePhone,
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
}

// TicketLookup is a ticket together with the status of the event it admits to.
type TicketLookup struct {
	Ticket      *models.Ticket
	EventStatus models.EventStatus
}

// InsertTicket stores t unless its code is already taken. inserted is false
// on a code collision so the caller can draw a new code.
func (s *Store) InsertTicket(ctx context.Context, t *models.Ticket) (inserted bool, err error) {
	result, err := s.db.NewQuery(`INSERT INTO tickets
		(id, ticket_tier_id, user_id, payment_id, ticket_code, status, scanned_by_user_id,
		 attendee_name, attendee_email, attendee_phone, created_at, updated_at)
		VALUES ({:id}, {:tier}, {:user}, {:payment}, {:code}, {:status}, '',
		 {:name}, {:email}, {:phone}, {:created}, {:updated})
		ON CONFLICT(ticket_code) DO NOTHING`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":      t.ID,
			"tier":    t.TicketTierID,
			"user":    t.UserID,
			"payment": t.PaymentID,
			"code":    t.TicketCode,
			"status":  string(t.Status),
			"name":    t.AttendeeName,
			"email":   t.AttendeeEmail,
			"phone":   t.AttendeePhone,
			"created": toMillis(t.CreatedAt),
			"updated": toMillis(t.UpdatedAt),
		}).
		Execute()
	if err != nil {
		return false, fmt.Errorf("insert ticket: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) FindTicketByCode(ctx context.Context, code string) (*TicketLookup, error) {
	var row ticketRow
	err := s.db.NewQuery("SELECT "+ticketColumns+ticketJoin+" WHERE t.ticket_code = {:code}").
		WithContext(ctx).
		Bind(dbx.Params{"code": code}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by code: %w", err)
	}
	return &TicketLookup{Ticket: row.toModel(), EventStatus: models.EventStatus(row.EventStatus)}, nil
}

func (s *Store) listTickets(ctx context.Context, where string, params dbx.Params) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := s.db.NewQuery("SELECT "+ticketColumns+ticketJoin+" WHERE "+where+" ORDER BY t.created_at, t.id").
		WithContext(ctx).
		Bind(params).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	tickets := make([]*models.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toModel())
	}
	return tickets, nil
}

func (s *Store) ListTicketsByPayment(ctx context.Context, paymentID string) ([]*models.Ticket, error) {
	return s.listTickets(ctx, "t.payment_id = {:payment}", dbx.Params{"payment": paymentID})
}

func (s *Store) ListTicketsByUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	return s.listTickets(ctx, "t.user_id = {:user}", dbx.Params{"user": userID})
}

// MarkTicketScanned moves the ticket to scanned if it is still in one of the
// from statuses. It reports false when the ticket changed underneath.
func (s *Store) MarkTicketScanned(ctx context.Context, id, scannerUserID string, now time.Time, from []models.TicketStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("mark ticket scanned: no source statuses")
	}
	params := dbx.Params{"id": id, "scanner": scannerUserID, "now": toMillis(now)}
	placeholders := make([]string, 0, len(from))
	for i, st := range from {
		if !st.Admits(true) {
			return false, fmt.Errorf("%w: ticket %s -> %s", status.ErrInvalidTransition, st, models.TicketScanned)
		}
		key := "s" + strconv.Itoa(i)
		params[key] = string(st)
		placeholders = append(placeholders, "{:"+key+"}")
	}

	result, err := s.db.NewQuery(`UPDATE tickets
		SET status = 'scanned', scanned_at = {:now}, scanned_by_user_id = {:scanner}, updated_at = {:now}
		WHERE id = {:id} AND status IN (` + strings.Join(placeholders, ", ") + `)`).
		WithContext(ctx).
		Bind(params).
		Execute()
	if err != nil {
		return false, fmt.Errorf("mark ticket scanned: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RefundTicketsByPayment refunds every confirmed ticket of the payment.
// Scanned tickets are left alone.
func (s *Store) RefundTicketsByPayment(ctx context.Context, paymentID string, now time.Time) (int64, error) {
	result, err := s.db.NewQuery(`UPDATE tickets SET status = 'refunded', updated_at = {:now}
		WHERE payment_id = {:payment} AND status = 'confirmed'`).
		WithContext(ctx).
		Bind(dbx.Params{"payment": paymentID, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("refund tickets: %w", err)
	}
	return affected(result)
}

// TierTicketCount pairs a tier's ledger count with the tickets actually stored for it.
type TierTicketCount struct {
	TierID    string `db:"tier_id" json:"tier_id"`
	Name      string `db:"name" json:"name"`
	SoldCount int    `db:"sold_count" json:"sold_count"`
	Tickets   int    `db:"tickets" json:"tickets"`
}

func (s *Store) TierTicketCounts(ctx context.Context, eventID string) ([]TierTicketCount, error) {
	var counts []TierTicketCount
	err := s.db.NewQuery(`SELECT tt.id AS tier_id, tt.name AS name, tt.sold_count AS sold_count, COUNT(t.id) AS tickets
		FROM ticket_tiers tt
		LEFT JOIN tickets t ON t.ticket_tier_id = tt.id
		WHERE tt.event_id = {:event}
		GROUP BY tt.id, tt.name, tt.sold_count
		ORDER BY tt.created_at, tt.id`).
		WithContext(ctx).
		Bind(dbx.Params{"event": eventID}).
		All(&counts)
	if err != nil {
		return nil, fmt.Errorf("count tier tickets: %w", err)
	}
	return counts, nil
}
