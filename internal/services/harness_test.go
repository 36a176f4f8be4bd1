package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"event-ticketing/internal/store"
	"event-ticketing/models"
	"event-ticketing/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const organizer = "organizer-1"

type published struct {
	channel string
	message map[string]any
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	msg, _ := message.(map[string]any)
	p.messages = append(p.messages, published{channel: channel, message: msg})
	return nil
}

func (p *recordingPublisher) byType(kind string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.message["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	store     *store.Store
	publisher *recordingPublisher
	catalog   *CatalogService
	issuance  *IssuanceService
	payments  *PaymentService
	scans     *ScanService
	tickets   *TicketService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	codes        utils.CodeGenerator
	codeAttempts int
	allowPending bool
}

func withCodes(codes utils.CodeGenerator, attempts int) harnessOption {
	return func(c *harnessConfig) {
		c.codes = codes
		c.codeAttempts = attempts
	}
}

func withAllowPending() harnessOption {
	return func(c *harnessConfig) { c.allowPending = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{codes: utils.RandomCodes, codeAttempts: 10}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "ticketing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	publisher := &recordingPublisher{}
	notifications := NewNotificationService(publisher)
	catalog := NewCatalogService(st, nil)
	issuance := NewIssuanceService(st, cfg.codes, cfg.codeAttempts)

	return &harness{
		store:     st,
		publisher: publisher,
		catalog:   catalog,
		issuance:  issuance,
		payments:  NewPaymentService(st, catalog, issuance, nil, notifications, nil),
		scans:     NewScanService(st, catalog, notifications, nil, ScanOptions{AllowPending: cfg.allowPending, MaxAttempts: 5}),
		tickets:   NewTicketService(st),
	}
}

type tierDef struct {
	name     string
	price    string
	currency string
	quantity int
}

// publishedEvent creates a published event owned by organizer with one tier per definition.
func (h *harness) publishedEvent(t *testing.T, defs ...tierDef) (*models.Event, []*models.TicketTier) {
	t.Helper()
	ctx := context.Background()
	start := time.Now().Add(48 * time.Hour).UTC()

	event, err := h.catalog.CreateEvent(ctx, organizer, CreateEventInput{
		OrganizationName: "Vientiane Live",
		Name:             "That Luang Festival Night",
		Venue:            "That Luang Square",
		StartDate:        start,
		EndDate:          start.Add(6 * time.Hour),
	})
	require.NoError(t, err)

	tiers := make([]*models.TicketTier, 0, len(defs))
	for _, def := range defs {
		currency := def.currency
		if currency == "" {
			currency = "LAK"
		}
		tier, err := h.catalog.CreateTier(ctx, organizer, event.ID, CreateTierInput{
			Name:     def.name,
			Price:    decimal.RequireFromString(def.price),
			Currency: currency,
			Quantity: def.quantity,
		})
		require.NoError(t, err)
		tiers = append(tiers, tier)
	}

	event, err = h.catalog.UpdateEventStatus(ctx, organizer, event.ID, models.EventPublished)
	require.NoError(t, err)
	return event, tiers
}

func (h *harness) order(t *testing.T, userID, eventID string, items ...OrderItem) *OrderReceipt {
	t.Helper()
	receipt, err := h.payments.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   userID,
		EventID:  eventID,
		Items:    items,
		Attendee: &models.Attendee{Name: "Khamla", Email: "khamla@example.com"},
	})
	require.NoError(t, err)
	return receipt
}

// confirm delivers a verified settlement for the order's exact amount.
func (h *harness) confirm(externalOrderID string) (*ConfirmResult, error) {
	in := ConfirmPaymentInput{
		ExternalOrderID:   externalOrderID,
		ExternalPaymentID: "bank-" + externalOrderID,
		Verified:          true,
	}
	if p, err := h.store.FindPaymentByExternalOrderID(context.Background(), externalOrderID); err == nil {
		in.Amount = &p.Amount
		in.Currency = p.Currency
	}
	return h.payments.ConfirmPayment(context.Background(), in)
}

// issuedTickets runs a full order and confirmation and returns the tickets.
func (h *harness) issuedTickets(t *testing.T, userID, eventID, tierID string, qty int) []*models.Ticket {
	t.Helper()
	receipt := h.order(t, userID, eventID, OrderItem{TierID: tierID, Quantity: qty})
	result, err := h.confirm(receipt.ExternalOrderID)
	require.NoError(t, err)
	require.Len(t, result.Tickets, qty)
	return result.Tickets
}

func (h *harness) tier(t *testing.T, id string) *models.TicketTier {
	t.Helper()
	tier, err := h.store.FindTier(context.Background(), id)
	require.NoError(t, err)
	return tier
}

func sequenceCodes(codes ...string) utils.CodeGenerator {
	var mu sync.Mutex
	i := 0
	return utils.CodeGeneratorFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	})
}
