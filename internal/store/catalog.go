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

// ErrSlugTaken is returned when an organization slug collides with an existing one.
var ErrSlugTaken = errors.New("organization slug already taken")

type organizationRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Slug        string `db:"slug"`
	Branding    string `db:"branding"`
	OwnerUserID string `db:"owner_user_id"`
	CreatedAt   int64  `db:"created_at"`
}

func (r organizationRow) toModel() *models.Organization {
	return &models.Organization{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Branding:    r.Branding,
		OwnerUserID: r.OwnerUserID,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	branding := org.Branding
	if branding == "" {
		branding = "{}"
	}
	_, err := s.db.NewQuery(`INSERT INTO organizations (id, name, slug, branding, owner_user_id, created_at)
		VALUES ({:id}, {:name}, {:slug}, {:branding}, {:owner}, {:created})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":       org.ID,
			"name":     org.Name,
			"slug":     org.Slug,
			"branding": branding,
			"owner":    org.OwnerUserID,
			"created":  toMillis(org.CreatedAt),
		}).
		Execute()
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrSlugTaken, org.Slug)
	}
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	org.Branding = branding
	return nil
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int
	err := s.db.NewQuery("SELECT COUNT(*) FROM organizations WHERE slug = {:slug}").
		WithContext(ctx).
		Bind(dbx.Params{"slug": slug}).
		Row(&count)
	if err != nil {
		return false, fmt.Errorf("count organization slug: %w", err)
	}
	return count > 0, nil
}

func (s *Store) FindOrganizationByOwner(ctx context.Context, userID string) (*models.Organization, error) {
	var row organizationRow
	err := s.db.NewQuery("SELECT * FROM organizations WHERE owner_user_id = {:owner}").
		WithContext(ctx).
		Bind(dbx.Params{"owner": userID}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) FindOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var row organizationRow
	err := s.db.NewQuery("SELECT * FROM organizations WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	return row.toModel(), nil
}

type eventRow struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
	Name           string `db:"name"`
	Venue          string `db:"venue"`
	StartDate      int64  `db:"start_date"`
	EndDate        int64  `db:"end_date"`
	TotalCapacity  int    `db:"total_capacity"`
	Status         string `db:"status"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r eventRow) toModel() *models.Event {
	return &models.Event{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Venue:          r.Venue,
		StartDate:      fromMillis(r.StartDate),
		EndDate:        fromMillis(r.EndDate),
		TotalCapacity:  r.TotalCapacity,
		Status:         models.EventStatus(r.Status),
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	_, err := s.db.NewQuery(`INSERT INTO events
		(id, organization_id, name, venue, start_date, end_date, total_capacity, status, created_at, updated_at)
		VALUES ({:id}, {:org}, {:name}, {:venue}, {:start}, {:end}, {:capacity}, {:status}, {:created}, {:updated})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":       event.ID,
			"org":      event.OrganizationID,
			"name":     event.Name,
			"venue":    event.Venue,
			"start":    toMillis(event.StartDate),
			"end":      toMillis(event.EndDate),
			"capacity": event.TotalCapacity,
			"status":   string(event.Status),
			"created":  toMillis(event.CreatedAt),
			"updated":  toMillis(event.UpdatedAt),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) FindEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := s.db.NewQuery("SELECT * FROM events WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListEventsByStatus(ctx context.Context, eventStatus models.EventStatus) ([]*models.Event, error) {
	var rows []eventRow
	err := s.db.NewQuery("SELECT * FROM events WHERE status = {:status} ORDER BY start_date").
		WithContext(ctx).
		Bind(dbx.Params{"status": string(eventStatus)}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]*models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// UpdateEventStatus moves the event from one status to another. It returns
// ErrStorageConflict when the event is no longer in the expected status.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, from, to models.EventStatus, now time.Time) error {
	result, err := s.db.NewQuery(`UPDATE events SET status = {:to}, updated_at = {:now}
		WHERE id = {:id} AND status = {:from}`).
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "from": string(from), "to": string(to), "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
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

type tierRow struct {
	ID          string `db:"id"`
	EventID     string `db:"event_id"`
	Name        string `db:"name"`
	Price       string `db:"price"`
	Currency    string `db:"currency"`
	Quantity    int    `db:"quantity"`
	SoldCount   int    `db:"sold_count"`
	MaxPerOrder int    `db:"max_per_order"`
	IsActive    bool   `db:"is_active"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r tierRow) toModel() (*models.TicketTier, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("tier %s price %q: %w", r.ID, r.Price, err)
	}
	return &models.TicketTier{
		ID:          r.ID,
		EventID:     r.EventID,
		Name:        r.Name,
		Price:       price,
		Currency:    r.Currency,
		Quantity:    r.Quantity,
		SoldCount:   r.SoldCount,
		MaxPerOrder: r.MaxPerOrder,
		IsActive:    r.IsActive,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}, nil
}

func (s *Store) CreateTier(ctx context.Context, tier *models.TicketTier) error {
	_, err := s.db.NewQuery(`INSERT INTO ticket_tiers
		(id, event_id, name, price, currency, quantity, sold_count, max_per_order, is_active, created_at, updated_at)
		VALUES ({:id}, {:event}, {:name}, {:price}, {:currency}, {:quantity}, 0, {:max}, {:active}, {:created}, {:updated})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":       tier.ID,
			"event":    tier.EventID,
			"name":     tier.Name,
			"price":    tier.Price.String(),
			"currency": tier.Currency,
			"quantity": tier.Quantity,
			"max":      tier.MaxPerOrder,
			"active":   tier.IsActive,
			"created":  toMillis(tier.CreatedAt),
			"updated":  toMillis(tier.UpdatedAt),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert tier: %w", err)
	}
	tier.SoldCount = 0
	return nil
}

func (s *Store) FindTier(ctx context.Context, id string) (*models.TicketTier, error) {
	var row tierRow
	err := s.db.NewQuery("SELECT * FROM ticket_tiers WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id}).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tier: %w", err)
	}
	return row.toModel()
}

func (s *Store) ListTiersByEvent(ctx context.Context, eventID string) ([]*models.TicketTier, error) {
	var rows []tierRow
	err := s.db.NewQuery("SELECT * FROM ticket_tiers WHERE event_id = {:event} ORDER BY created_at, id").
		WithContext(ctx).
		Bind(dbx.Params{"event": eventID}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	tiers := make([]*models.TicketTier, 0, len(rows))
	for _, row := range rows {
		tier, err := row.toModel()
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func (s *Store) SetTierActive(ctx context.Context, id string, active bool, now time.Time) error {
	result, err := s.db.NewQuery("UPDATE ticket_tiers SET is_active = {:active}, updated_at = {:now} WHERE id = {:id}").
		WithContext(ctx).
		Bind(dbx.Params{"id": id, "active": active, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("update tier active: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ErrTierNotFound
	}
	return nil
}

// ReserveCapacity advances the tier's sold count by quantity in one
// conditional statement. When nothing is updated the tier is read only to
// classify the rejection.
func (s *Store) ReserveCapacity(ctx context.Context, tierID string, quantity int, now time.Time) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve %d units: quantity must be positive", quantity)
	}
	result, err := s.db.NewQuery(`UPDATE ticket_tiers
		SET sold_count = sold_count + {:qty}, updated_at = {:now}
		WHERE id = {:id} AND is_active = 1 AND sold_count + {:qty} <= quantity`).
		WithContext(ctx).
		Bind(dbx.Params{"id": tierID, "qty": quantity, "now": toMillis(now)}).
		Execute()
	if err != nil {
		return fmt.Errorf("reserve capacity: %w", err)
	}
	n, err := affected(result)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	tier, err := s.FindTier(ctx, tierID)
	if err != nil {
		return err
	}
	if !tier.IsActive {
		return status.ErrTierInactive
	}
	return status.ErrSoldOut
}
