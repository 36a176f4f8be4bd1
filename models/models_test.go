package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketStatus_Transitions(t *testing.T) {
	tests := []struct {
		from     TicketStatus
		to       TicketStatus
		expected bool
	}{
		{TicketConfirmed, TicketScanned, true},
		{TicketPending, TicketConfirmed, true},
		{TicketConfirmed, TicketRefunded, true},
		{TicketConfirmed, TicketCancelled, true},
		{TicketScanned, TicketConfirmed, false},
		{TicketScanned, TicketRefunded, false},
		{TicketCancelled, TicketScanned, false},
		{TicketRefunded, TicketScanned, false},
		{TicketPending, TicketScanned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTicketStatus_Sources(t *testing.T) {
	assert.Equal(t, []TicketStatus{TicketConfirmed}, TicketScanned.Sources())
	assert.ElementsMatch(t, []TicketStatus{TicketPending, TicketConfirmed}, TicketCancelled.Sources())
	assert.Empty(t, TicketPending.Sources())
}

func TestTicketStatus_Admits(t *testing.T) {
	assert.True(t, TicketConfirmed.Admits(false))
	assert.False(t, TicketPending.Admits(false))
	assert.True(t, TicketPending.Admits(true))
	assert.False(t, TicketScanned.Admits(true))
	assert.False(t, TicketRefunded.Admits(true))
	assert.False(t, TicketCancelled.Admits(true))
}

func TestPaymentStatus_Transitions(t *testing.T) {
	assert.True(t, PaymentPending.CanTransitionTo(PaymentCompleted))
	assert.True(t, PaymentPending.CanTransitionTo(PaymentFailed))
	assert.True(t, PaymentCompleted.CanTransitionTo(PaymentRefunded))
	assert.True(t, PaymentFailed.CanTransitionTo(PaymentRefunded))

	assert.False(t, PaymentCompleted.CanTransitionTo(PaymentCompleted))
	assert.False(t, PaymentCompleted.CanTransitionTo(PaymentPending))
	assert.False(t, PaymentFailed.CanTransitionTo(PaymentCompleted))
	assert.False(t, PaymentRefunded.CanTransitionTo(PaymentPending))
}

func TestEventStatus_Transitions(t *testing.T) {
	assert.True(t, EventDraft.CanTransitionTo(EventPublished))
	assert.True(t, EventDraft.CanTransitionTo(EventCancelled))
	assert.True(t, EventPublished.CanTransitionTo(EventCompleted))
	assert.True(t, EventPublished.CanTransitionTo(EventCancelled))

	assert.False(t, EventPublished.CanTransitionTo(EventDraft))
	assert.False(t, EventCompleted.CanTransitionTo(EventPublished))
	assert.False(t, EventCancelled.CanTransitionTo(EventPublished))

	assert.True(t, EventCompleted.Valid())
	assert.False(t, EventStatus("archived").Valid())
}

func TestCartSnapshot_EncodeDecode(t *testing.T) {
	cart := CartSnapshot{
		Version: CartSnapshotVersion,
		Lines: []CartLine{
			{TierID: "tier-a", TierName: "VIP", Quantity: 2, UnitPrice: decimal.RequireFromString("150.50")},
			{TierID: "tier-b", TierName: "General", Quantity: 1, UnitPrice: decimal.RequireFromString("40")},
		},
		Attendee: &Attendee{Name: "Noy", Email: "noy@example.com"},
	}

	raw, err := cart.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCartSnapshot(raw)
	require.NoError(t, err)

	require.Len(t, decoded.Lines, 2)
	assert.Equal(t, "tier-a", decoded.Lines[0].TierID)
	assert.True(t, decoded.Lines[0].UnitPrice.Equal(decimal.RequireFromString("150.5")))
	assert.Equal(t, 3, decoded.TotalQuantity())
	assert.True(t, decoded.Total().Equal(decimal.RequireFromString("341")))
	require.NotNil(t, decoded.Attendee)
	assert.Equal(t, "Noy", decoded.Attendee.Name)
}

func TestCartSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name string
		cart CartSnapshot
	}{
		{"wrong version", CartSnapshot{Version: 2, Lines: []CartLine{{TierID: "t", Quantity: 1}}}},
		{"no lines", CartSnapshot{Version: CartSnapshotVersion}},
		{"missing tier", CartSnapshot{Version: CartSnapshotVersion, Lines: []CartLine{{Quantity: 1}}}},
		{"zero quantity", CartSnapshot{Version: CartSnapshotVersion, Lines: []CartLine{{TierID: "t"}}}},
		{"negative price", CartSnapshot{Version: CartSnapshotVersion, Lines: []CartLine{{TierID: "t", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cart.Validate())
			_, err := tt.cart.Encode()
			assert.Error(t, err)
		})
	}
}

func TestDecodeCartSnapshot_RejectsGarbage(t *testing.T) {
	_, err := DecodeCartSnapshot("not json")
	assert.Error(t, err)

	_, err = DecodeCartSnapshot(`{"version":1,"lines":[]}`)
	assert.Error(t, err)
}

func TestTicketTier_Remaining(t *testing.T) {
	tier := TicketTier{Quantity: 10, SoldCount: 4}
	assert.Equal(t, 6, tier.Remaining())

	tier.SoldCount = 10
	assert.Equal(t, 0, tier.Remaining())
}
