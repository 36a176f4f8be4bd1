package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/internal/store"
	"event-ticketing/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const maxSlugAttempts = 50

type CatalogService struct {
	store        *store.Store
	availability *AvailabilityService
	validate     *validator.Validate
	now          func() time.Time
}

func NewCatalogService(st *store.Store, availability *AvailabilityService) *CatalogService {
	return &CatalogService{
		store:        st,
		availability: availability,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		now:          time.Now,
	}
}

type CreateEventInput struct {
	OrganizationName string    `json:"organization_name" validate:"omitempty,max=200"`
	Name             string    `json:"name" validate:"required,max=200"`
	Venue            string    `json:"venue" validate:"max=300"`
	StartDate        time.Time `json:"start_date" validate:"required"`
	EndDate          time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	TotalCapacity    int       `json:"total_capacity" validate:"gte=0"`
}

type CreateTierInput struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency" validate:"required,len=3,alpha"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
	MaxPerOrder int             `json:"max_per_order" validate:"gte=0"`
	IsActive    *bool           `json:"is_active"`
}

type EventDetails struct {
	Event        *models.Event        `json:"event"`
	Organization *models.Organization `json:"organization"`
	Tiers        []*models.TicketTier `json:"tiers"`
}

// CreateEvent creates a draft event. A user without an organization gets one
// on their first event.
func (s *CatalogService) CreateEvent(ctx context.Context, userID string, in CreateEventInput) (*models.Event, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidInput, err)
	}

	orgName := in.OrganizationName
	if orgName == "" {
		orgName = in.Name
	}
	org, err := s.ensureOrganization(ctx, userID, orgName)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	event := &models.Event{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		Name:           in.Name,
		Venue:          in.Venue,
		StartDate:      in.StartDate.UTC(),
		EndDate:        in.EndDate.UTC(),
		TotalCapacity:  in.TotalCapacity,
		Status:         models.EventDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	slog.Info("event created", "event_id", event.ID, "organization_id", org.ID, "user_id", userID)
	return event, nil
}

func (s *CatalogService) ensureOrganization(ctx context.Context, userID, name string) (*models.Organization, error) {
	org, err := s.store.FindOrganizationByOwner(ctx, userID)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, status.ErrOrganizationNotFound) {
		return nil, err
	}

	base := slug.Make(name)
	if base == "" {
		base = "organization"
	}

	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := base
		if n > 1 {
			candidate = base + "-" + strconv.Itoa(n)
		}

		org = &models.Organization{
			ID:          uuid.NewString(),
			Name:        name,
			Slug:        candidate,
			OwnerUserID: userID,
			CreatedAt:   s.now().UTC(),
		}
		err := s.store.CreateOrganization(ctx, org)
		if err == nil {
			slog.Info("organization created", "organization_id", org.ID, "slug", org.Slug, "user_id", userID)
			return org, nil
		}
		if !errors.Is(err, store.ErrSlugTaken) {
			return nil, err
		}
		// The owner index also raises a unique violation when a concurrent
		// request created this user's organization first.
		if existing, findErr := s.store.FindOrganizationByOwner(ctx, userID); findErr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("no free slug for organization %q after %d attempts", name, maxSlugAttempts)
}

// AuthorizeOrganizer returns the event when userID owns its organization.
func (s *CatalogService) AuthorizeOrganizer(ctx context.Context, eventID, userID string) (*models.Event, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	org, err := s.store.FindOrganization(ctx, event.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org.OwnerUserID != userID {
		return nil, status.ErrForbidden
	}
	return event, nil
}

func (s *CatalogService) CreateTier(ctx context.Context, userID, eventID string, in CreateTierInput) (*models.TicketTier, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidInput, err)
	}
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", status.ErrInvalidInput)
	}

	event, err := s.AuthorizeOrganizer(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventDraft && event.Status != models.EventPublished {
		return nil, fmt.Errorf("%w: event is %s", status.ErrInvalidInput, event.Status)
	}

	maxPerOrder := in.MaxPerOrder
	if maxPerOrder == 0 {
		maxPerOrder = 10
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	now := s.now().UTC()
	tier := &models.TicketTier{
		ID:          uuid.NewString(),
		EventID:     eventID,
		Name:        in.Name,
		Price:       in.Price,
		Currency:    strings.ToUpper(in.Currency),
		Quantity:    in.Quantity,
		MaxPerOrder: maxPerOrder,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The allocation check and the insert share a write transaction so two
	// creations cannot both fit under the cap.
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		if event.TotalCapacity > 0 {
			tiers, err := tx.ListTiersByEvent(ctx, eventID)
			if err != nil {
				return err
			}
			allocated := in.Quantity
			for _, t := range tiers {
				allocated += t.Quantity
			}
			if allocated > event.TotalCapacity {
				return fmt.Errorf("%w: tiers would allocate %d of %d seats", status.ErrInvalidInput, allocated, event.TotalCapacity)
			}
		}
		return tx.CreateTier(ctx, tier)
	})
	if err != nil {
		return nil, err
	}

	s.availability.Invalidate(ctx, eventID)
	return tier, nil
}

func (s *CatalogService) UpdateEventStatus(ctx context.Context, userID, eventID string, to models.EventStatus) (*models.Event, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown event status %q", status.ErrInvalidInput, to)
	}
	event, err := s.AuthorizeOrganizer(ctx, eventID, userID)
	if err != nil {
		return nil, err
	}
	if !event.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: event %s -> %s", status.ErrInvalidTransition, event.Status, to)
	}

	now := s.now().UTC()
	if err := s.store.UpdateEventStatus(ctx, eventID, event.Status, to, now); err != nil {
		return nil, err
	}
	s.availability.Invalidate(ctx, eventID)

	slog.Info("event status changed", "event_id", eventID, "from", event.Status, "to", to)
	event.Status = to
	event.UpdatedAt = now
	return event, nil
}

func (s *CatalogService) SetTierActive(ctx context.Context, userID, tierID string, active bool) (*models.TicketTier, error) {
	tier, err := s.store.FindTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if _, err := s.AuthorizeOrganizer(ctx, tier.EventID, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.SetTierActive(ctx, tierID, active, now); err != nil {
		return nil, err
	}
	s.availability.Invalidate(ctx, tier.EventID)

	tier.IsActive = active
	tier.UpdatedAt = now
	return tier, nil
}

func (s *CatalogService) GetEvent(ctx context.Context, eventID string) (*EventDetails, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	org, err := s.store.FindOrganization(ctx, event.OrganizationID)
	if err != nil {
		return nil, err
	}
	tiers, err := s.store.ListTiersByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &EventDetails{Event: event, Organization: org, Tiers: tiers}, nil
}
