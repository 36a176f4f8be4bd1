package handlers

import (
	"net/http"

	"event-ticketing/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ScanHandler struct {
	scanService *services.ScanService
}

func NewScanHandler(scanService *services.ScanService) *ScanHandler {
	return &ScanHandler{scanService: scanService}
}

type scanReq struct {
	TicketCode string `json:"ticket_code"`
	EventID    string `json:"event_id"`
}

// VerifyScan - Gate scan. Rejections are reported in the body, not as errors.
func (h *ScanHandler) VerifyScan(e *core.RequestEvent) error {
	scannerID, err := authUserID(e)
	if err != nil {
		return err
	}

	var req scanReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.TicketCode == "" || req.EventID == "" {
		return apis.NewBadRequestError("ticket_code and event_id are required", nil)
	}

	outcome, err := h.scanService.VerifyScan(e.Request.Context(), req.TicketCode, req.EventID, scannerID)
	if err != nil {
		return apiError("h.scanService.VerifyScan()", err)
	}
	return e.JSON(http.StatusOK, outcome)
}

func (h *ScanHandler) ListScans(e *core.RequestEvent) error {
	userID, err := authUserID(e)
	if err != nil {
		return err
	}

	log, err := h.scanService.ListScans(e.Request.Context(), e.Request.PathValue("eventId"), userID)
	if err != nil {
		return apiError("h.scanService.ListScans()", err)
	}
	return e.JSON(http.StatusOK, log)
}
