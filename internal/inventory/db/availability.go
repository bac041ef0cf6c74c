package db

import (
	"context"
	"fmt"

	"ms-fairpass/internal/models"
)

// Availability counts the event's tickets per status.
func (d *DB) Availability(ctx context.Context, eventID string) (*models.Availability, error) {
	exists, err := d.EventExists(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrEventNotFound
	}

	var rows []models.StatusCount
	err = d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count tickets of event %s: %w", eventID, err)
	}

	a := &models.Availability{EventID: eventID}
	for _, row := range rows {
		switch row.Status {
		case models.TicketStatusAvailable:
			a.Available = row.Count
		case models.TicketStatusHeld:
			a.Held = row.Count
		case models.TicketStatusSold:
			a.Sold = row.Count
		}
		a.Total += row.Count
	}
	return a, nil
}
