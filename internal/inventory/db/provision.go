package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-fairpass/internal/models"
)

const insertChunkSize = 1000

// ProvisionEvent creates an event and TotalTickets AVAILABLE tickets for it in
// a single transaction.
func (d *DB) ProvisionEvent(ctx context.Context, req models.CreateEventRequest, now time.Time) (*models.Event, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if req.TotalTickets < 0 {
		return nil, fmt.Errorf("%w: total_tickets must not be negative", ErrInvalidEvent)
	}

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = now
	}

	event := &models.Event{
		ID:           uuid.NewString(),
		Name:         name,
		TotalTickets: req.TotalTickets,
		StartDate:    startDate.UTC(),
		CreatedAt:    now,
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return insertTickets(ctx, tx, event.ID, req.TotalTickets, now)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func insertTickets(ctx context.Context, idb bun.IDB, eventID string, count int, now time.Time) error {
	for done := 0; done < count; {
		n := count - done
		if n > insertChunkSize {
			n = insertChunkSize
		}

		batch := make([]models.Ticket, n)
		for i := range batch {
			batch[i] = models.Ticket{
				ID:        uuid.NewString(),
				EventID:   eventID,
				Status:    models.TicketStatusAvailable,
				CreatedAt: now,
			}
		}
		if _, err := idb.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return fmt.Errorf("insert tickets %d-%d: %w", done, done+n, err)
		}
		done += n
	}
	return nil
}

// DeleteEvent removes an event with its tickets and intents. Only the seed
// tool uses it, to reset a test event.
func (d *DB) DeleteEvent(ctx context.Context, eventID string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		intents := tx.NewSelect().
			Model((*models.BookingIntent)(nil)).
			Column("id").
			Where("event_id = ?", eventID)

		if _, err := tx.NewDelete().
			Model((*models.BookingIntentTicket)(nil)).
			Where("intent_id IN (?)", intents).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.BookingIntent)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.Ticket)(nil)).
			Where("event_id = ?", eventID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*models.Event)(nil)).
			Where("id = ?", eventID).
			Exec(ctx)
		return err
	})
}

// FindEventByName returns the most recently created event with that name.
func (d *DB) FindEventByName(ctx context.Context, name string) (*models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("name = ?", name).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return &events[0], nil
}
