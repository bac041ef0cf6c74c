package models

import "time"

type BookingEventType string

const (
	BookingReserved  BookingEventType = "booking.reserved"
	BookingConfirmed BookingEventType = "booking.confirmed"
	BookingCancelled BookingEventType = "booking.cancelled"
	BookingExpired   BookingEventType = "booking.expired"
)

// BookingEvent is the payload published for every intent state change.
type BookingEvent struct {
	Type       BookingEventType `json:"type"`
	IntentID   string           `json:"intent_id"`
	EventID    string           `json:"event_id"`
	TicketIDs  []string         `json:"ticket_ids"`
	ExpiresAt  time.Time        `json:"expires_at"`
	OccurredAt time.Time        `json:"occurred_at"`
}
