package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"event-ticketing/internal/services"
	"event-ticketing/internal/services/bank"
	"event-ticketing/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

const (
	// statusFinalized is the gateway's processingStatus for a settled payment.
	statusFinalized = "FNLD"

	maxWebhookBody = 64 << 10
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	verifier       bank.Verifier
}

func NewPaymentHandler(paymentService *services.PaymentService, verifier bank.Verifier) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, verifier: verifier}
}

type LDBHookReq struct {
	NotifyID int64            `json:"notifyId"`
	Status   string           `json:"processingStatus"`
	UUID     string           `json:"partnerOrderID"`
	RefID2   string           `json:"partnerPaymentID"`
	Bank     string           `json:"paymentBank"`
	Time     string           `json:"paymentAt"`
	TxID     string           `json:"paymentReference"`
	Amount   *decimal.Decimal `json:"amount"`
	Ccy      string           `json:"currency"`
}

func (r LDBHookReq) finalized() bool {
	return r.Status == statusFinalized && r.TxID != ""
}

func (r LDBHookReq) check() error {
	switch {
	case r.UUID == "":
		return errors.New("missing partnerOrderID")
	case r.finalized() && r.Amount == nil:
		return errors.New("missing amount for a finalized payment")
	}
	return nil
}

// confirmation must only be called on a body whose signature was verified.
func (r LDBHookReq) confirmation() services.ConfirmPaymentInput {
	return services.ConfirmPaymentInput{
		ExternalOrderID:   r.UUID,
		ExternalPaymentID: r.TxID,
		Verified:          r.finalized(),
		Amount:            r.Amount,
		Currency:          r.Ccy,
	}
}

// PaymentWebhook - Gateway settlement notification. Business rejections are
// acknowledged with 200 so the gateway stops retrying; only infrastructure
// failures ask for a retry.
func (h *PaymentHandler) PaymentWebhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		return apis.NewBadRequestError("bad request", nil)
	}
	if err := h.verifier.Verify(e.Request.Context(), body, e.Request.Header.Get(bank.SignatureHeader)); err != nil {
		slog.Warn("payment webhook rejected", "remote_addr", e.Request.RemoteAddr, "error", err)
		return apiError("h.verifier.Verify()", err)
	}

	var req LDBHookReq
	if err := json.Unmarshal(body, &req); err != nil {
		return apis.NewBadRequestError("bad request", nil)
	}
	if err := req.check(); err != nil {
		slog.Warn("invalid payment webhook", "notify_id", req.NotifyID, "status", req.Status, "error", err)
		return apis.NewBadRequestError("invalid hook request body: "+err.Error(), nil)
	}
	slog.Info("payment webhook", "notify_id", req.NotifyID, "order_id", req.UUID, "status", req.Status, "bank", req.Bank)

	result, err := h.paymentService.ConfirmPayment(e.Request.Context(), req.confirmation())
	switch {
	case err == nil:
		return e.JSON(http.StatusOK, map[string]any{
			"code":           200,
			"status":         "OK",
			"message":        "Payment processed.",
			"payment_status": result.Payment.Status,
			"tickets":        len(result.Tickets),
			"duplicate":      result.Duplicate,
		})
	case errors.Is(err, status.ErrCapacityExceeded),
		errors.Is(err, status.ErrEventNotOnSale),
		errors.Is(err, status.ErrAmountMismatch),
		errors.Is(err, status.ErrSettledAfterFail):
		return e.JSON(http.StatusOK, map[string]any{
			"code":    200,
			"status":  "REJECTED",
			"message": err.Error(),
		})
	}
	return apiError("h.paymentService.ConfirmPayment()", err)
}

// SimulatePayment - Development-only settlement for a pending order. Only
// routed when ENABLE_PAYMENT_SIMULATION is set in a development environment.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	var req struct {
		ExternalOrderID string           `json:"external_order_id"`
		Status          string           `json:"status"`
		Amount          *decimal.Decimal `json:"amount"`
		Currency        string           `json:"currency"`
	}
	if err := e.BindBody(&req); err != nil {
		return e.JSON(http.StatusBadRequest, "bad request")
	}

	result, err := h.paymentService.ConfirmPayment(e.Request.Context(), services.ConfirmPaymentInput{
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: "sim-" + req.ExternalOrderID,
		Verified:          req.Status == statusFinalized,
		Amount:            req.Amount,
		Currency:          req.Currency,
	})
	if err != nil {
		return apiError("h.paymentService.ConfirmPayment()", err)
	}
	return e.JSON(http.StatusOK, result)
}
