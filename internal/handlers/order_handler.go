package handlers

import (
	"net/http"

	"event-ticketing/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type OrderHandler struct {
	paymentService *services.PaymentService
}

func NewOrderHandler(paymentService *services.PaymentService) *OrderHandler {
	return &OrderHandler{paymentService: paymentService}
}

// CreateOrder - Price a cart and open a pending payment
func (h *OrderHandler) CreateOrder(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req services.CreateOrderInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	req.UserID = userID

	receipt, err := h.paymentService.CreateOrder(e.Request.Context(), req)
	if err != nil {
		return apiError("h.paymentService.CreateOrder()", err)
	}
	return e.JSON(http.StatusCreated, receipt)
}

// GetOrder - Payment and tickets for the buyer
func (h *OrderHandler) GetOrder(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	details, err := h.paymentService.GetOrder(e.Request.Context(), e.Request.PathValue("paymentId"), userID)
	if err != nil {
		return apiError("h.paymentService.GetOrder()", err)
	}
	return e.JSON(http.StatusOK, details)
}
