package store

import (
	"context"
	"fmt"

	"event-ticketing/models"

	"github.com/pocketbase/dbx"
)

type entryScanRow struct {
	ID              string `db:"id"`
	TicketID        string `db:"ticket_id"`
	ScannedByUserID string `db:"scanned_by_user_id"`
	EventID         string `db:"event_id"`
	ScanResult      string `db:"scan_result"`
	ScannedAt       int64  `db:"scanned_at"`
}

func (s *Store) InsertEntryScan(ctx context.Context, scan *models.EntryScan) error {
	_, err := s.db.NewQuery(`INSERT INTO entry_scans (id, ticket_id, scanned_by_user_id, event_id, scan_result, scanned_at)
		VALUES ({:id}, {:ticket}, {:scanner}, {:event}, {:result}, {:at})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":      scan.ID,
			"ticket":  scan.TicketID,
			"scanner": scan.ScannedByUserID,
			"event":   scan.EventID,
			"result":  string(scan.ScanResult),
			"at":      toMillis(scan.ScannedAt),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert entry scan: %w", err)
	}
	return nil
}

func (s *Store) InsertUnmatchedScan(ctx context.Context, scan *models.UnmatchedScan) error {
	_, err := s.db.NewQuery(`INSERT INTO unmatched_scans (id, ticket_code, event_id, scanned_by_user_id, scanned_at)
		VALUES ({:id}, {:code}, {:event}, {:scanner}, {:at})`).
		WithContext(ctx).
		Bind(dbx.Params{
			"id":      scan.ID,
			"code":    scan.TicketCode,
			"event":   scan.EventID,
			"scanner": scan.ScannedByUserID,
			"at":      toMillis(scan.ScannedAt),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("insert unmatched scan: %w", err)
	}
	return nil
}

func (s *Store) listEntryScans(ctx context.Context, column, value string) ([]*models.EntryScan, error) {
	var rows []entryScanRow
	err := s.db.NewQuery("SELECT * FROM entry_scans WHERE "+column+" = {:value} ORDER BY scanned_at, id").
		WithContext(ctx).
		Bind(dbx.Params{"value": value}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list entry scans: %w", err)
	}
	scans := make([]*models.EntryScan, 0, len(rows))
	for _, row := range rows {
		scans = append(scans, &models.EntryScan{
			ID:              row.ID,
			TicketID:        row.TicketID,
			ScannedByUserID: row.ScannedByUserID,
			EventID:         row.EventID,
			ScanResult:      models.ScanResult(row.ScanResult),
			ScannedAt:       fromMillis(row.ScannedAt),
		})
	}
	return scans, nil
}

func (s *Store) ListEntryScansByEvent(ctx context.Context, eventID string) ([]*models.EntryScan, error) {
	return s.listEntryScans(ctx, "event_id", eventID)
}

func (s *Store) ListEntryScansByTicket(ctx context.Context, ticketID string) ([]*models.EntryScan, error) {
	return s.listEntryScans(ctx, "ticket_id", ticketID)
}

func (s *Store) ListUnmatchedScans(ctx context.Context, eventID string) ([]*models.UnmatchedScan, error) {
	var rows []struct {
		ID              string `db:"id"`
		TicketCode      string `db:"ticket_code"`
		EventID         string `db:"event_id"`
		ScannedByUserID string `db:"scanned_by_user_id"`
		ScannedAt       int64  `db:"scanned_at"`
	}
	err := s.db.NewQuery("SELECT * FROM unmatched_scans WHERE event_id = {:event} ORDER BY scanned_at, id").
		WithContext(ctx).
		Bind(dbx.Params{"event": eventID}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list unmatched scans: %w", err)
	}
	scans := make([]*models.UnmatchedScan, 0, len(rows))
	for _, row := range rows {
		scans = append(scans, &models.UnmatchedScan{
			ID:              row.ID,
			TicketCode:      row.TicketCode,
			EventID:         row.EventID,
			ScannedByUserID: row.ScannedByUserID,
			ScannedAt:       fromMillis(row.ScannedAt),
		})
	}
	return scans, nil
}
