package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event owns a fixed pool of tickets. TotalTickets is informational; availability
// is always derived from the tickets table.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID           string    `bun:"id,pk" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	TotalTickets int       `bun:"total_tickets,notnull" json:"total_tickets"`
	StartDate    time.Time `bun:"start_date,notnull" json:"start_date"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}

type CreateEventRequest struct {
	Name         string    `json:"name"`
	TotalTickets int       `json:"total_tickets"`
	StartDate    time.Time `json:"start_date"`
}
