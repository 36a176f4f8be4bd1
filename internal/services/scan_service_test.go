package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyScan_UnknownCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, _ := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})

	outcome, err := h.scans.VerifyScan(ctx, "zzzz9999", event.ID, organizer)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, models.ScanInvalid, outcome.Result)
	assert.Equal(t, "ticket not found", outcome.Message)
	assert.Nil(t, outcome.Ticket)

	scans, err := h.store.ListEntryScansByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, scans)

	unmatched, err := h.store.ListUnmatchedScans(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "ZZZZ9999", unmatched[0].TicketCode)
	assert.Equal(t, organizer, unmatched[0].ScannedByUserID)
}

func TestVerifyScan_OnlyOrganizerOperatesGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	for _, scanner := range []string{"buyer-1", "stranger"} {
		_, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, scanner)
		assert.ErrorIs(t, err, status.ErrForbidden, scanner)
	}
	_, err := h.scans.VerifyScan(ctx, "NOPE2345", event.ID, "stranger")
	assert.ErrorIs(t, err, status.ErrForbidden)

	lookup, err := h.store.FindTicketByCode(ctx, ticket.TicketCode)
	require.NoError(t, err)
	assert.Equal(t, models.TicketConfirmed, lookup.Ticket.Status)
	assert.Nil(t, lookup.Ticket.ScannedAt)

	scans, err := h.store.ListEntryScansByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, scans)
	unmatched, err := h.store.ListUnmatchedScans(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, unmatched)
	assert.Empty(t, h.publisher.byType("scan_recorded"))

	outcome, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestVerifyScan_WrongEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	festival, festivalTiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	concert, _ := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", festival.ID, festivalTiers[0].ID, 1)[0]

	outcome, err := h.scans.VerifyScan(ctx, ticket.TicketCode, concert.ID, organizer)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, models.ScanWrongEvent, outcome.Result)

	lookup, err := h.store.FindTicketByCode(ctx, ticket.TicketCode)
	require.NoError(t, err)
	assert.Equal(t, models.TicketConfirmed, lookup.Ticket.Status)
	assert.Nil(t, lookup.Ticket.ScannedAt)

	scans, err := h.store.ListEntryScansByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, concert.ID, scans[0].EventID)
	assert.Equal(t, models.ScanWrongEvent, scans[0].ScanResult)
}

func TestVerifyScan_SuccessThenAlreadyScanned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	first, err := h.scans.VerifyScan(ctx, " "+ticket.TicketCode+" ", event.ID, organizer)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, models.ScanSuccess, first.Result)
	require.NotNil(t, first.ScannedAt)
	require.NotNil(t, first.Ticket)
	assert.Equal(t, models.TicketScanned, first.Ticket.Status)
	assert.Equal(t, organizer, first.Ticket.ScannedByUserID)

	second, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, models.ScanAlreadyScanned, second.Result)
	require.NotNil(t, second.ScannedAt)
	assert.WithinDuration(t, *first.ScannedAt, *second.ScannedAt, time.Millisecond)
	assert.Contains(t, second.Message, "already scanned at")
	assert.Equal(t, organizer, second.Ticket.ScannedByUserID)

	scans, err := h.store.ListEntryScansByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	results := []models.ScanResult{scans[0].ScanResult, scans[1].ScanResult}
	assert.ElementsMatch(t, []models.ScanResult{models.ScanSuccess, models.ScanAlreadyScanned}, results)

	gate := h.publisher.byType("scan_recorded")
	require.Len(t, gate, 2)
	assert.Equal(t, GateChannel(event.ID), gate[0].channel)
}

func TestVerifyScan_RefundedTicketIsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	_, err := h.payments.RefundPayment(ctx, ticket.PaymentID, organizer)
	require.NoError(t, err)

	outcome, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
	require.NoError(t, err)
	assert.Equal(t, models.ScanExpired, outcome.Result)
	assert.Equal(t, "ticket is refunded", outcome.Message)
}

func TestVerifyScan_ClosedEventIsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	_, err := h.catalog.UpdateEventStatus(ctx, organizer, event.ID, models.EventCompleted)
	require.NoError(t, err)

	outcome, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
	require.NoError(t, err)
	assert.Equal(t, models.ScanExpired, outcome.Result)
	assert.Equal(t, "event is not open for entry", outcome.Message)

	lookup, err := h.store.FindTicketByCode(ctx, ticket.TicketCode)
	require.NoError(t, err)
	assert.Equal(t, models.TicketConfirmed, lookup.Ticket.Status)
}

func TestVerifyScan_ConcurrentScansAdmitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	const gates = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := map[models.ScanResult]int{}
	for i := 0; i < gates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results[outcome.Result]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results[models.ScanSuccess])
	assert.Equal(t, gates-1, results[models.ScanAlreadyScanned])

	scans, err := h.store.ListEntryScansByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, scans, gates)
}

func insertPendingTicket(t *testing.T, h *harness, userID, tierID, code string) *models.Ticket {
	t.Helper()
	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:           uuid.NewString(),
		TicketTierID: tierID,
		UserID:       userID,
		TicketCode:   code,
		Status:       models.TicketPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inserted, err := h.store.InsertTicket(context.Background(), ticket)
	require.NoError(t, err)
	require.True(t, inserted)
	return ticket
}

func TestVerifyScan_PendingTicket(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		h := newHarness(t)
		event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
		insertPendingTicket(t, h, "buyer-1", tiers[0].ID, "PEND2345")

		outcome, err := h.scans.VerifyScan(context.Background(), "PEND2345", event.ID, organizer)
		require.NoError(t, err)
		assert.Equal(t, models.ScanInvalid, outcome.Result)
		assert.Equal(t, "payment not complete", outcome.Message)
	})

	t.Run("admitted when allowed", func(t *testing.T) {
		h := newHarness(t, withAllowPending())
		event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
		insertPendingTicket(t, h, "buyer-1", tiers[0].ID, "PEND2345")

		outcome, err := h.scans.VerifyScan(context.Background(), "PEND2345", event.ID, organizer)
		require.NoError(t, err)
		assert.True(t, outcome.Success)

		lookup, err := h.store.FindTicketByCode(context.Background(), "PEND2345")
		require.NoError(t, err)
		assert.Equal(t, models.TicketScanned, lookup.Ticket.Status)
	})
}

func TestListScans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event, tiers := h.publishedEvent(t, tierDef{name: "General", price: "25", quantity: 10})
	ticket := h.issuedTickets(t, "buyer-1", event.ID, tiers[0].ID, 1)[0]

	_, err := h.scans.VerifyScan(ctx, ticket.TicketCode, event.ID, organizer)
	require.NoError(t, err)
	_, err = h.scans.VerifyScan(ctx, "NOPE2345", event.ID, organizer)
	require.NoError(t, err)

	log, err := h.scans.ListScans(ctx, event.ID, organizer)
	require.NoError(t, err)
	assert.Len(t, log.Scans, 1)
	assert.Len(t, log.Unmatched, 1)

	_, err = h.scans.ListScans(ctx, event.ID, "buyer-1")
	assert.ErrorIs(t, err, status.ErrForbidden)
}
