package models

import "time"

type ReserveRequest struct {
	Quantity int `json:"quantity"`
}

// Reservation is what a successful reserve call hands back.
type Reservation struct {
	IntentID  string    `json:"intent_id"`
	EventID   string    `json:"event_id"`
	TicketIDs []string  `json:"ticket_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}
