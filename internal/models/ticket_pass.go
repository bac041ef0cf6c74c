package models

import "time"

// TicketPass is what a confirmed ticket's QR code carries, sealed.
type TicketPass struct {
	TicketID string    `json:"ticket_id"`
	IntentID string    `json:"intent_id"`
	EventID  string    `json:"event_id"`
	IssuedAt time.Time `json:"issued_at"`
}
