package handlers

import (
	"net/http"

	"event-ticketing/internal/services"
	"event-ticketing/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// AdminHandler serves organizer operations. Ownership checks happen in the
// services; every route here requires an authenticated user.
type AdminHandler struct {
	catalogService *services.CatalogService
	paymentService *services.PaymentService
}

func NewAdminHandler(catalogService *services.CatalogService, paymentService *services.PaymentService) *AdminHandler {
	return &AdminHandler{
		catalogService: catalogService,
		paymentService: paymentService,
	}
}

func (h *AdminHandler) CreateEvent(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req services.CreateEventInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	event, err := h.catalogService.CreateEvent(e.Request.Context(), userID, req)
	if err != nil {
		return apiError("h.catalogService.CreateEvent()", err)
	}
	return e.JSON(http.StatusCreated, event)
}

func (h *AdminHandler) CreateTier(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req services.CreateTierInput
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tier, err := h.catalogService.CreateTier(e.Request.Context(), userID, e.Request.PathValue("eventId"), req)
	if err != nil {
		return apiError("h.catalogService.CreateTier()", err)
	}
	return e.JSON(http.StatusCreated, tier)
}

// UpdateEventStatus - Publish, complete or cancel an event
func (h *AdminHandler) UpdateEventStatus(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req struct {
		Status models.EventStatus `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	event, err := h.catalogService.UpdateEventStatus(e.Request.Context(), userID, e.Request.PathValue("eventId"), req.Status)
	if err != nil {
		return apiError("h.catalogService.UpdateEventStatus()", err)
	}
	return e.JSON(http.StatusOK, event)
}

func (h *AdminHandler) SetTierActive(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Active == nil {
		return apis.NewBadRequestError("active is required", nil)
	}

	tier, err := h.catalogService.SetTierActive(e.Request.Context(), userID, e.Request.PathValue("tierId"), *req.Active)
	if err != nil {
		return apiError("h.catalogService.SetTierActive()", err)
	}
	return e.JSON(http.StatusOK, tier)
}

func (h *AdminHandler) RefundPayment(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	details, err := h.paymentService.RefundPayment(e.Request.Context(), e.Request.PathValue("paymentId"), userID)
	if err != nil {
		return apiError("h.paymentService.RefundPayment()", err)
	}
	return e.JSON(http.StatusOK, details)
}

// GetReconciliation - Failed payments awaiting an operator refund, and the
// sold counts to check them against
func (h *AdminHandler) GetReconciliation(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	report, err := h.paymentService.ListReconciliation(e.Request.Context(), e.Request.PathValue("eventId"), userID)
	if err != nil {
		return apiError("h.paymentService.ListReconciliation()", err)
	}
	return e.JSON(http.StatusOK, report)
}
