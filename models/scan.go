package models

import (
	"time"
)

type ScanResult string

const (
	ScanSuccess        ScanResult = "success"
	ScanAlreadyScanned ScanResult = "already_scanned"
	ScanInvalid        ScanResult = "invalid"
	ScanExpired        ScanResult = "expired"
	ScanWrongEvent     ScanResult = "wrong_event"
)

// EntryScan is an append-only audit row. It is written for every scan that
// resolves to a known ticket.
type EntryScan struct {
	ID              string     `json:"id"`
	TicketID        string     `json:"ticket_id"`
	ScannedByUserID string     `json:"scanned_by_user_id"`
	EventID         string     `json:"event_id"`
	ScanResult      ScanResult `json:"scan_result"`
	ScannedAt       time.Time  `json:"scanned_at"`
}

// UnmatchedScan records a scanned code that matched no ticket.
type UnmatchedScan struct {
	ID              string    `json:"id"`
	TicketCode      string    `json:"ticket_code"`
	EventID         string    `json:"event_id"`
	ScannedByUserID string    `json:"scanned_by_user_id"`
	ScannedAt       time.Time `json:"scanned_at"`
}

type ScanOutcome struct {
	Success   bool       `json:"success"`
	Result    ScanResult `json:"scan_result"`
	Message   string     `json:"message"`
	Ticket    *Ticket    `json:"ticket,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}
