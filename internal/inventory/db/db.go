package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-fairpass/internal/models"
)

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrIntentNotFound     = errors.New("booking intent not found")
	ErrTicketStateChanged = errors.New("ticket state changed while locked")
	ErrInvalidEvent       = errors.New("invalid event")
)

// DB is the inventory ledger backed by bun. Reads outside a transaction hang
// off DB; everything that must be atomic goes through RunInTx and a Ledger.
type DB struct {
	Bun *bun.DB
}

// RunInTx runs fn inside one database transaction at the server's default
// isolation level. The transaction commits when fn returns nil and rolls back
// otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, l *Ledger) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Ledger{tx: tx})
	})
}

// EventExists checks if an event with the given ID exists in the database
func (d *DB) EventExists(ctx context.Context, eventID string) (bool, error) {
	exists, err := d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return exists, nil
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetIntent loads an intent together with the ids of the tickets it holds.
func (d *DB) GetIntent(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	var intent models.BookingIntent
	err := d.Bun.NewSelect().
		Model(&intent).
		Where("id = ?", intentID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}

	ids, err := ticketIDsForIntent(ctx, d.Bun, intentID)
	if err != nil {
		return nil, err
	}
	return &models.IntentWithTickets{BookingIntent: intent, TicketIDs: ids}, nil
}

func ticketIDsForIntent(ctx context.Context, idb bun.IDB, intentID string) ([]string, error) {
	ids := make([]string, 0)
	err := idb.NewSelect().
		Model((*models.BookingIntentTicket)(nil)).
		Column("ticket_id").
		Where("intent_id = ?", intentID).
		Order("ticket_id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("load tickets of intent %s: %w", intentID, err)
	}
	return ids, nil
}
