package reservation

import (
	"context"
	"time"

	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/models"
)

// Ledger is the transactional half of the inventory store.
type Ledger interface {
	LockAvailableTickets(ctx context.Context, eventID string, quantity int) ([]string, error)
	MarkHeld(ctx context.Context, ticketIDs []string, expiresAt time.Time) error
	InsertIntent(ctx context.Context, intent *models.BookingIntent) error
	LinkTickets(ctx context.Context, intentID string, ticketIDs []string) error
}

type Store interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error
}

type dbStore struct {
	db *db.DB
}

// NewStore adapts the bun inventory ledger to Store.
func NewStore(d *db.DB) Store {
	return dbStore{db: d}
}

func (s dbStore) EventExists(ctx context.Context, eventID string) (bool, error) {
	return s.db.EventExists(ctx, eventID)
}

func (s dbStore) RunInTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return s.db.RunInTx(ctx, func(ctx context.Context, l *db.Ledger) error {
		return fn(ctx, l)
	})
}
