package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-fairpass/internal/models"
)

// Ledger is the set of inventory operations available inside a transaction.
// None of them commit on their own.
type Ledger struct {
	tx bun.IDB
}

// LockAvailableTickets selects up to quantity AVAILABLE tickets of the event
// and row-locks them. Rows already locked by another transaction are skipped
// rather than waited on, so concurrent callers never pick the same ticket.
// quantity only bounds the query; the result is sized by the rows found.
func (l *Ledger) LockAvailableTickets(ctx context.Context, eventID string, quantity int) ([]string, error) {
	var ids []string
	err := l.tx.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("id").
		Where("event_id = ?", eventID).
		Where("status = ?", models.TicketStatusAvailable).
		Order("id").
		Limit(quantity).
		For("UPDATE SKIP LOCKED").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("lock available tickets: %w", err)
	}
	return ids, nil
}

// MarkHeld moves the given tickets from AVAILABLE to HELD with one shared
// expiry. Every id must still be AVAILABLE; a partial update is an error and
// the caller is expected to roll back.
func (l *Ledger) MarkHeld(ctx context.Context, ticketIDs []string, expiresAt time.Time) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	res, err := l.tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusHeld).
		Set("hold_expires_at = ?", expiresAt).
		Set("version = version + 1").
		Where("id IN (?)", bun.In(ticketIDs)).
		Where("status = ?", models.TicketStatusAvailable).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark tickets held: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark tickets held: %w", err)
	}
	if int(n) != len(ticketIDs) {
		return fmt.Errorf("%w: held %d of %d tickets", ErrTicketStateChanged, n, len(ticketIDs))
	}
	return nil
}

func (l *Ledger) InsertIntent(ctx context.Context, intent *models.BookingIntent) error {
	if _, err := l.tx.NewInsert().Model(intent).Exec(ctx); err != nil {
		return fmt.Errorf("insert booking intent: %w", err)
	}
	return nil
}

// LinkTickets records which tickets an intent holds.
func (l *Ledger) LinkTickets(ctx context.Context, intentID string, ticketIDs []string) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	links := make([]models.BookingIntentTicket, len(ticketIDs))
	for i, id := range ticketIDs {
		links[i] = models.BookingIntentTicket{IntentID: intentID, TicketID: id}
	}
	if _, err := l.tx.NewInsert().Model(&links).Exec(ctx); err != nil {
		return fmt.Errorf("link tickets to intent %s: %w", intentID, err)
	}
	return nil
}

// GetIntentForUpdate loads an intent and locks its row until the transaction
// ends. Confirm, cancel and expiry serialize on this lock.
func (l *Ledger) GetIntentForUpdate(ctx context.Context, intentID string) (*models.BookingIntent, error) {
	var intent models.BookingIntent
	err := l.tx.NewSelect().
		Model(&intent).
		Where("id = ?", intentID).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock intent %s: %w", intentID, err)
	}
	return &intent, nil
}

func (l *Ledger) TicketIDsForIntent(ctx context.Context, intentID string) ([]string, error) {
	return ticketIDsForIntent(ctx, l.tx, intentID)
}

func (l *Ledger) SetIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) error {
	_, err := l.tx.NewUpdate().
		Model((*models.BookingIntent)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", intentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set intent %s to %s: %w", intentID, status, err)
	}
	return nil
}

// TransitionTickets moves the given tickets from one status to another and
// clears their hold. Tickets not currently in from are left alone; the number
// of rows changed is returned.
func (l *Ledger) TransitionTickets(ctx context.Context, ticketIDs []string, from, to models.TicketStatus) (int, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}

	res, err := l.tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", to).
		Set("hold_expires_at = NULL").
		Set("version = version + 1").
		Where("id IN (?)", bun.In(ticketIDs)).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("move tickets %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LockExpiredIntents returns up to limit PENDING intents whose expiry has
// passed, locked for update. Intents locked by a concurrent sweeper or by an
// in-flight confirm are skipped.
func (l *Ledger) LockExpiredIntents(ctx context.Context, now time.Time, limit int) ([]models.BookingIntent, error) {
	intents := make([]models.BookingIntent, 0)
	err := l.tx.NewSelect().
		Model(&intents).
		Where("status = ?", models.IntentStatusPending).
		Where("expires_at <= ?", now).
		Order("expires_at").
		Limit(limit).
		For("UPDATE SKIP LOCKED").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock expired intents: %w", err)
	}
	return intents, nil
}

// ReleaseOrphanHolds frees HELD tickets whose hold has lapsed and that no
// PENDING intent claims.
func (l *Ledger) ReleaseOrphanHolds(ctx context.Context, now time.Time, limit int) (int, error) {
	orphans := l.tx.NewSelect().
		TableExpr("tickets AS o").
		ColumnExpr("o.id").
		Where("o.status = ?", models.TicketStatusHeld).
		Where("o.hold_expires_at <= ?", now).
		Where(`NOT EXISTS (
			SELECT 1 FROM booking_intent_tickets AS link
			JOIN booking_intents AS i ON i.id = link.intent_id
			WHERE link.ticket_id = o.id AND i.status = ?)`, models.IntentStatusPending).
		Limit(limit).
		For("UPDATE SKIP LOCKED")

	res, err := l.tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusAvailable).
		Set("hold_expires_at = NULL").
		Set("version = version + 1").
		Where("id IN (?)", orphans).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release orphan holds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
