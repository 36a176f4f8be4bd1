package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-ticketing/internal/status"
	"event-ticketing/internal/store"
	"event-ticketing/models"
	"event-ticketing/monitoring"
	"event-ticketing/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type ScanService struct {
	store         *store.Store
	catalog       *CatalogService
	notifications *NotificationService
	monitor       *monitoring.Monitor
	allowPending  bool
	maxAttempts   int
	now           func() time.Time
}

type ScanOptions struct {
	// AllowPending admits tickets whose payment has not completed.
	AllowPending bool
	MaxAttempts  int
}

func NewScanService(st *store.Store, catalog *CatalogService, notifications *NotificationService, monitor *monitoring.Monitor, opts ScanOptions) *ScanService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &ScanService{
		store:         st,
		catalog:       catalog,
		notifications: notifications,
		monitor:       monitor,
		allowPending:  opts.AllowPending,
		maxAttempts:   opts.MaxAttempts,
		now:           time.Now,
	}
}

type ScanLog struct {
	EventID   string                  `json:"event_id"`
	Scans     []*models.EntryScan     `json:"scans"`
	Unmatched []*models.UnmatchedScan `json:"unmatched"`
}

// VerifyScan classifies a code presented at eventID's gate and admits the
// ticket at most once. A lost race on the ticket row rolls the attempt back
// and classifies again against the fresh row.
func (s *ScanService) VerifyScan(ctx context.Context, code, eventID, scannerUserID string) (*models.ScanOutcome, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "scan.VerifyScan")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	// Only the event's organizer may operate its gate.
	if _, err := s.catalog.AuthorizeOrganizer(ctx, eventID, scannerUserID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	code = utils.NormalizeCode(code)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		now := s.now().UTC()
		outcome, err := s.verifyOnce(ctx, code, eventID, scannerUserID, now)
		if errors.Is(err, status.ErrStorageConflict) {
			slog.Warn("scan lost ticket update race", "event_id", eventID, "attempt", attempt)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		span.SetAttributes(attribute.String("scan.result", string(outcome.Result)))
		s.monitor.TrackScan(eventID, outcome.Result)
		s.notifications.ScanRecorded(ctx, eventID, outcome, now)
		return outcome, nil
	}
	return nil, fmt.Errorf("verify scan after %d attempts: %w", s.maxAttempts, status.ErrStorageConflict)
}

func (s *ScanService) verifyOnce(ctx context.Context, code, eventID, scannerUserID string, now time.Time) (*models.ScanOutcome, error) {
	var outcome *models.ScanOutcome
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		lookup, err := tx.FindTicketByCode(ctx, code)
		if errors.Is(err, status.ErrTicketNotFound) {
			outcome = &models.ScanOutcome{Result: models.ScanInvalid, Message: "ticket not found"}
			return tx.InsertUnmatchedScan(ctx, &models.UnmatchedScan{
				ID:              uuid.NewString(),
				TicketCode:      code,
				EventID:         eventID,
				ScannedByUserID: scannerUserID,
				ScannedAt:       now,
			})
		}
		if err != nil {
			return err
		}

		outcome = s.classify(lookup, eventID)
		if outcome.Result == models.ScanSuccess {
			ok, err := tx.MarkTicketScanned(ctx, lookup.Ticket.ID, scannerUserID, now, s.scannableFrom())
			if err != nil {
				return err
			}
			if !ok {
				return status.ErrStorageConflict
			}
			lookup.Ticket.Status = models.TicketScanned
			lookup.Ticket.ScannedAt = &now
			lookup.Ticket.ScannedByUserID = scannerUserID
			lookup.Ticket.UpdatedAt = now
			outcome.ScannedAt = &now
		}

		return tx.InsertEntryScan(ctx, &models.EntryScan{
			ID:              uuid.NewString(),
			TicketID:        lookup.Ticket.ID,
			ScannedByUserID: scannerUserID,
			EventID:         eventID,
			ScanResult:      outcome.Result,
			ScannedAt:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// classify applies the gate rules in order; the first match decides.
func (s *ScanService) classify(lookup *store.TicketLookup, eventID string) *models.ScanOutcome {
	t := lookup.Ticket
	reject := func(result models.ScanResult, msg string) *models.ScanOutcome {
		return &models.ScanOutcome{Result: result, Message: msg, Ticket: t}
	}

	switch {
	case t.EventID != eventID:
		return reject(models.ScanWrongEvent, "ticket is for a different event")
	case t.Status == models.TicketScanned:
		out := reject(models.ScanAlreadyScanned, "ticket already scanned")
		if t.ScannedAt != nil {
			out.Message = "ticket already scanned at " + t.ScannedAt.Format(time.RFC3339)
			out.ScannedAt = t.ScannedAt
		}
		return out
	case t.Status == models.TicketCancelled || t.Status == models.TicketRefunded:
		return reject(models.ScanExpired, "ticket is "+string(t.Status))
	case lookup.EventStatus != models.EventPublished:
		return reject(models.ScanExpired, "event is not open for entry")
	case t.Status == models.TicketPending && !s.allowPending:
		return reject(models.ScanInvalid, "payment not complete")
	}
	return &models.ScanOutcome{Success: true, Result: models.ScanSuccess, Message: "entry granted", Ticket: t}
}

func (s *ScanService) scannableFrom() []models.TicketStatus {
	from := models.TicketScanned.Sources()
	if s.allowPending {
		from = append(from, models.TicketPending)
	}
	return from
}

func (s *ScanService) ListScans(ctx context.Context, eventID, userID string) (*ScanLog, error) {
	if _, err := s.catalog.AuthorizeOrganizer(ctx, eventID, userID); err != nil {
		return nil, err
	}
	scans, err := s.store.ListEntryScansByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	unmatched, err := s.store.ListUnmatchedScans(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &ScanLog{EventID: eventID, Scans: scans, Unmatched: unmatched}, nil
}
