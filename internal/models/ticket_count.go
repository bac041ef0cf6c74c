package models

// Availability is a point-in-time status breakdown of an event's tickets.
// It is informational only; reserve never consults it.
type Availability struct {
	EventID   string `json:"event_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
	Sold      int    `json:"sold"`
}

// StatusCount is one row of a GROUP BY status query.
type StatusCount struct {
	Status TicketStatus `bun:"status"`
	Count  int          `bun:"count"`
}
