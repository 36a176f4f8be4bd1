package handlers

import (
	"net/http"

	"event-ticketing/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

type EventHandler struct {
	catalogService      *services.CatalogService
	availabilityService *services.AvailabilityService
}

func NewEventHandler(catalogService *services.CatalogService, availabilityService *services.AvailabilityService) *EventHandler {
	return &EventHandler{
		catalogService:      catalogService,
		availabilityService: availabilityService,
	}
}

func (h *EventHandler) GetEvent(e *core.RequestEvent) error {
	details, err := h.catalogService.GetEvent(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError("h.catalogService.GetEvent()", err)
	}
	return e.JSON(http.StatusOK, details)
}

// GetAvailability - Remaining seats per tier, served from cache
func (h *EventHandler) GetAvailability(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	tiers, err := h.availabilityService.GetAvailability(e.Request.Context(), eventID)
	if err != nil {
		return apiError("h.availabilityService.GetAvailability()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"tiers":    tiers,
	})
}
