package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"event-ticketing/internal/services/bank"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "test-webhook-secret"

const finalizedBody = `{
	"notifyId": 991,
	"processingStatus": "FNLD",
	"partnerOrderID": "order-1",
	"partnerPaymentID": "ref-2",
	"paymentBank": "LDB",
	"paymentAt": "2026-10-16T10:00:00+07:00",
	"paymentReference": "TX123",
	"amount": "50000",
	"currency": "LAK"
}`

func webhookEvent(body, signature string) *core.RequestEvent {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(bank.SignatureHeader, signature)
	}
	e := &core.RequestEvent{}
	e.Request = req
	e.Response = httptest.NewRecorder()
	return e
}

func webhookStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr), "expected an api error, got %v", err)
	return apiErr.Status
}

func TestPaymentWebhook_RejectsUnsignedOrForgedBodies(t *testing.T) {
	forged := strings.Replace(finalizedBody, `"50000"`, `"1"`, 1)

	tests := []struct {
		name      string
		body      string
		signature string
	}{
		{"no signature", finalizedBody, ""},
		{"signed with another secret", finalizedBody, bank.Sign([]byte(finalizedBody), "guessed-secret")},
		{"body altered after signing", forged, bank.Sign([]byte(finalizedBody), webhookSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A nil payment service panics if the request gets past verification.
			h := NewPaymentHandler(nil, bank.NewHMACVerifier(webhookSecret))
			err := h.PaymentWebhook(webhookEvent(tt.body, tt.signature))
			assert.Equal(t, http.StatusUnauthorized, webhookStatus(t, err))
		})
	}
}

func TestPaymentWebhook_UnconfiguredSecretRejects(t *testing.T) {
	h := NewPaymentHandler(nil, bank.NewHMACVerifier(""))
	err := h.PaymentWebhook(webhookEvent(finalizedBody, bank.Sign([]byte(finalizedBody), "")))
	assert.Equal(t, http.StatusUnauthorized, webhookStatus(t, err))
}

func TestPaymentWebhook_RejectsInvalidSignedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"finalized without amount", `{"processingStatus":"FNLD","partnerOrderID":"order-1","paymentReference":"TX1"}`},
		{"missing order id", `{"processingStatus":"FNLD","paymentReference":"TX1","amount":"10"}`},
		{"not json", `processingStatus=FNLD`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(nil, bank.NewHMACVerifier(webhookSecret))
			err := h.PaymentWebhook(webhookEvent(tt.body, bank.Sign([]byte(tt.body), webhookSecret)))
			assert.Equal(t, http.StatusBadRequest, webhookStatus(t, err))
		})
	}
}

func TestLDBHookReq_Confirmation(t *testing.T) {
	var req LDBHookReq
	require.NoError(t, json.Unmarshal([]byte(finalizedBody), &req))
	require.NoError(t, req.check())

	in := req.confirmation()
	assert.Equal(t, "order-1", in.ExternalOrderID)
	assert.Equal(t, "TX123", in.ExternalPaymentID)
	assert.True(t, in.Verified)
	require.NotNil(t, in.Amount)
	assert.True(t, in.Amount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, "LAK", in.Currency)
}

func TestLDBHookReq_Unverified(t *testing.T) {
	tests := []struct {
		name string
		req  LDBHookReq
	}{
		{"not finalized", LDBHookReq{UUID: "order-1", TxID: "TX1", Status: "PEND"}},
		{"missing reference", LDBHookReq{UUID: "order-1", Status: "FNLD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.req.check())
			in := tt.req.confirmation()
			assert.False(t, in.Verified)
			assert.Nil(t, in.Amount)
		})
	}
}
