package handlers

import (
	"net/http"

	"event-ticketing/internal/services"

	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	ticketService *services.TicketService
}

func NewTicketHandler(ticketService *services.TicketService) *TicketHandler {
	return &TicketHandler{ticketService: ticketService}
}

func (h *TicketHandler) ListTickets(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	tickets, err := h.ticketService.ListTicketsByUser(e.Request.Context(), userID)
	if err != nil {
		return apiError("h.ticketService.ListTicketsByUser()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets})
}

// GetTicketQR - PNG of the holder's ticket code
func (h *TicketHandler) GetTicketQR(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	png, err := h.ticketService.RenderQR(e.Request.Context(), e.Request.PathValue("code"), userID)
	if err != nil {
		return apiError("h.ticketService.RenderQR()", err)
	}
	e.Response.Header().Set("Cache-Control", "private, max-age=300")
	return e.Blob(http.StatusOK, "image/png", png)
}
