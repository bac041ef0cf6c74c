package holds

import (
	"context"
	"time"

	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/models"
)

// Ledger is the part of the inventory ledger the hold lifecycle needs.
type Ledger interface {
	GetIntentForUpdate(ctx context.Context, intentID string) (*models.BookingIntent, error)
	TicketIDsForIntent(ctx context.Context, intentID string) ([]string, error)
	SetIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) error
	TransitionTickets(ctx context.Context, ticketIDs []string, from, to models.TicketStatus) (int, error)
	LockExpiredIntents(ctx context.Context, now time.Time, limit int) ([]models.BookingIntent, error)
	ReleaseOrphanHolds(ctx context.Context, now time.Time, limit int) (int, error)
}

type Store interface {
	GetIntent(ctx context.Context, intentID string) (*models.IntentWithTickets, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error
}

type dbStore struct {
	db *db.DB
}

func NewStore(d *db.DB) Store {
	return dbStore{db: d}
}

func (s dbStore) GetIntent(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	return s.db.GetIntent(ctx, intentID)
}

func (s dbStore) RunInTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return s.db.RunInTx(ctx, func(ctx context.Context, l *db.Ledger) error {
		return fn(ctx, l)
	})
}

// expire marks a locked PENDING intent EXPIRED and puts its held tickets
// back on sale. It returns the released ticket ids.
func expire(ctx context.Context, l Ledger, intent *models.BookingIntent, now time.Time) ([]string, error) {
	ids, err := l.TicketIDsForIntent(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if _, err := l.TransitionTickets(ctx, ids, models.TicketStatusHeld, models.TicketStatusAvailable); err != nil {
		return nil, err
	}
	if err := l.SetIntentStatus(ctx, intent.ID, models.IntentStatusExpired, now); err != nil {
		return nil, err
	}
	intent.Status = models.IntentStatusExpired
	intent.UpdatedAt = now
	return ids, nil
}
