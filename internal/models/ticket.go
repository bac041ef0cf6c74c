package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusAvailable TicketStatus = "AVAILABLE"
	TicketStatusHeld      TicketStatus = "HELD"
	TicketStatusSold      TicketStatus = "SOLD"
)

// Ticket is one interchangeable unit of an event's inventory.
//
// Allowed transitions: AVAILABLE -> HELD -> SOLD, HELD -> AVAILABLE.
// HoldExpiresAt is set only while HELD. Version is bumped on every transition
// but nothing reads it for concurrency control; row locks do that job.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID            string       `bun:"id,pk" json:"id"`
	EventID       string       `bun:"event_id,notnull" json:"event_id"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	HoldExpiresAt *time.Time   `bun:"hold_expires_at" json:"hold_expires_at,omitempty"`
	Version       int          `bun:"version,notnull" json:"version"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}
