package models

import (
	"time"

	"github.com/uptrace/bun"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusCompleted IntentStatus = "COMPLETED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
	IntentStatusCancelled IntentStatus = "CANCELLED"
)

// BookingIntent records one successful reservation. ExpiresAt always equals the
// hold_expires_at written on the tickets reserved with it.
type BookingIntent struct {
	bun.BaseModel `bun:"table:booking_intents,alias:bi"`

	ID        string       `bun:"id,pk" json:"id"`
	EventID   string       `bun:"event_id,notnull" json:"event_id"`
	Status    IntentStatus `bun:"status,notnull" json:"status"`
	Quantity  int          `bun:"quantity,notnull" json:"quantity"`
	ExpiresAt time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt time.Time    `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time    `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// BookingIntentTicket links an intent to the exact tickets it holds.
type BookingIntentTicket struct {
	bun.BaseModel `bun:"table:booking_intent_tickets,alias:bit"`

	IntentID string `bun:"intent_id,pk" json:"intent_id"`
	TicketID string `bun:"ticket_id,pk" json:"ticket_id"`
}

type IntentWithTickets struct {
	BookingIntent
	TicketIDs []string `json:"ticket_ids"`
}
