package services

import (
	"context"
	"fmt"

	"event-ticketing/internal/status"
	"event-ticketing/internal/store"
	"event-ticketing/models"
	"event-ticketing/utils"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

type TicketService struct {
	store *store.Store
}

func NewTicketService(st *store.Store) *TicketService {
	return &TicketService{store: st}
}

func (s *TicketService) ListTicketsByUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	return s.store.ListTicketsByUser(ctx, userID)
}

// FindTicketByCode returns the ticket only to its holder.
func (s *TicketService) FindTicketByCode(ctx context.Context, code, userID string) (*models.Ticket, error) {
	code = utils.NormalizeCode(code)
	if !utils.ValidCode(code) {
		return nil, status.ErrTicketNotFound
	}
	lookup, err := s.store.FindTicketByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if lookup.Ticket.UserID != userID {
		return nil, status.ErrForbidden
	}
	return lookup.Ticket, nil
}

// RenderQR encodes the holder's ticket code as a PNG for the gate scanner.
func (s *TicketService) RenderQR(ctx context.Context, code, userID string) ([]byte, error) {
	ticket, err := s.FindTicketByCode(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(ticket.TicketCode, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode ticket qr: %w", err)
	}
	return png, nil
}
