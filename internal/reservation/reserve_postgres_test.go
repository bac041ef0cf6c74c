package reservation_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/config"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
	"ms-fairpass/internal/reservation"
	"ms-fairpass/internal/testutil"
)

func newPostgresService(t *testing.T, store reservation.Store) *reservation.ReservationService {
	return reservation.NewReservationService(store, nil, nil, clock.NewSystem(),
		logger.NewLoggerWithWriter(io.Discard),
		config.ReservationConfig{HoldDuration: 5 * time.Minute, StatementTimeout: 30 * time.Second})
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Ten Tickets", 10)
	svc := newPostgresService(t, reservation.NewStore(&db.DB{Bun: bunDB}))

	const requests = 50
	var wg sync.WaitGroup
	results := make([]*models.Reservation, requests)
	errs := make([]error, requests)
	start := make(chan struct{})

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Reserve(context.Background(), eventID, 1)
		}(i)
	}
	close(start)
	wg.Wait()

	successes, soldOut := 0, 0
	seen := make(map[string]bool)
	for i := 0; i < requests; i++ {
		if errs[i] == nil {
			successes++
			for _, id := range results[i].TicketIDs {
				assert.False(t, seen[id], "ticket %s reserved twice", id)
				seen[id] = true
			}
			continue
		}
		assert.Equal(t, reservation.KindSoldOut, reservation.KindOf(errs[i]), "unexpected error: %v", errs[i])
		soldOut++
	}

	assert.Equal(t, 10, successes)
	assert.Equal(t, 40, soldOut)
	assert.Equal(t, 10, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusHeld))
	assert.Equal(t, 0, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusAvailable))
	assert.Equal(t, 10, testutil.CountIntents(t, bunDB, eventID))
}

func TestReserveMoreThanAvailableChangesNothing(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Five Tickets", 5)
	svc := newPostgresService(t, reservation.NewStore(&db.DB{Bun: bunDB}))

	res, err := svc.Reserve(context.Background(), eventID, 7)
	assert.Nil(t, res)
	assert.Equal(t, reservation.KindSoldOut, reservation.KindOf(err))

	assert.Equal(t, 5, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusAvailable))
	assert.Equal(t, 0, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusHeld))
	assert.Equal(t, 0, testutil.CountIntents(t, bunDB, eventID))
}

func TestReserveHugeQuantityIsSoldOut(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Uncapped", 5)
	// no MaxPerRequest: any positive quantity reaches the store
	svc := newPostgresService(t, reservation.NewStore(&db.DB{Bun: bunDB}))

	res, err := svc.Reserve(context.Background(), eventID, 1<<40)
	assert.Nil(t, res)
	assert.Equal(t, reservation.KindSoldOut, reservation.KindOf(err))
	assert.Equal(t, 5, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusAvailable))
	assert.Equal(t, 0, testutil.CountIntents(t, bunDB, eventID))
}

func TestConcurrentMixedQuantitiesNeverOversell(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Mixed Quantities", 10)
	svc := newPostgresService(t, reservation.NewStore(&db.DB{Bun: bunDB}))

	const requests = 40
	var wg sync.WaitGroup
	quantities := make([]int, requests)
	results := make([]*models.Reservation, requests)
	errs := make([]error, requests)
	start := make(chan struct{})

	for i := 0; i < requests; i++ {
		quantities[i] = i%4 + 1
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.Reserve(context.Background(), eventID, quantities[i])
		}(i)
	}
	close(start)
	wg.Wait()

	reserved := 0
	seen := make(map[string]bool)
	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			assert.Equal(t, reservation.KindSoldOut, reservation.KindOf(errs[i]), "unexpected error: %v", errs[i])
			continue
		}
		require.Len(t, results[i].TicketIDs, quantities[i])
		reserved += quantities[i]
		for _, id := range results[i].TicketIDs {
			assert.False(t, seen[id], "ticket %s reserved twice", id)
			seen[id] = true
		}
	}

	assert.LessOrEqual(t, reserved, 10)
	held := testutil.CountTickets(t, bunDB, eventID, models.TicketStatusHeld)
	sold := testutil.CountTickets(t, bunDB, eventID, models.TicketStatusSold)
	assert.Equal(t, reserved, held+sold)
	assert.Equal(t, 10-reserved, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusAvailable))

	var linked int
	for _, intentID := range intentIDs(results) {
		intent, err := (&db.DB{Bun: bunDB}).GetIntent(context.Background(), intentID)
		require.NoError(t, err)
		linked += len(intent.TicketIDs)
	}
	assert.Equal(t, reserved, linked)
}

func intentIDs(results []*models.Reservation) []string {
	var ids []string
	for _, r := range results {
		if r != nil {
			ids = append(ids, r.IntentID)
		}
	}
	return ids
}

func TestReservedTicketsMatchIntent(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Consistency", 6)
	store := &db.DB{Bun: bunDB}
	svc := newPostgresService(t, reservation.NewStore(store))
	ctx := context.Background()

	res, err := svc.Reserve(ctx, eventID, 4)
	require.NoError(t, err)
	require.Len(t, res.TicketIDs, 4)

	var tickets []models.Ticket
	require.NoError(t, bunDB.NewSelect().
		Model(&tickets).
		Where("id IN (?)", bun.In(res.TicketIDs)).
		Scan(ctx))
	require.Len(t, tickets, 4)
	for _, ticket := range tickets {
		assert.Equal(t, eventID, ticket.EventID)
		assert.Equal(t, models.TicketStatusHeld, ticket.Status)
		require.NotNil(t, ticket.HoldExpiresAt)
		assert.True(t, res.ExpiresAt.Equal(*ticket.HoldExpiresAt))
	}

	intent, err := store.GetIntent(ctx, res.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, intent.Status)
	assert.True(t, res.ExpiresAt.Equal(intent.ExpiresAt))
	assert.ElementsMatch(t, res.TicketIDs, intent.TicketIDs)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), intent.ExpiresAt, time.Minute)
}

func TestReserveUnknownEventAgainstPostgres(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	svc := newPostgresService(t, reservation.NewStore(&db.DB{Bun: bunDB}))

	_, err := svc.Reserve(context.Background(), uuid.NewString(), 1)
	assert.ErrorIs(t, err, reservation.ErrEventNotFound)
}

// failingStore breaks the last write of the transaction so everything before
// it has to be rolled back.
type failingStore struct {
	reservation.Store
	failLink bool
}

type failingLedger struct {
	reservation.Ledger
}

var errLinkFailed = errors.New("connection reset while linking")

func (l failingLedger) LinkTickets(context.Context, string, []string) error {
	return errLinkFailed
}

func (s *failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, l reservation.Ledger) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, l reservation.Ledger) error {
		if s.failLink {
			l = failingLedger{Ledger: l}
		}
		return fn(ctx, l)
	})
}

func TestFailedReserveRollsBackAndCanBeRetried(t *testing.T) {
	bunDB := testutil.NewPostgres(t)
	eventID := testutil.InsertEvent(t, bunDB, "Rollback", 3)
	store := &failingStore{Store: reservation.NewStore(&db.DB{Bun: bunDB}), failLink: true}
	svc := newPostgresService(t, store)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, eventID, 3)
	assert.Equal(t, reservation.KindTransient, reservation.KindOf(err))
	assert.ErrorIs(t, err, errLinkFailed)
	assert.Equal(t, 3, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusAvailable))
	assert.Equal(t, 0, testutil.CountIntents(t, bunDB, eventID))

	store.failLink = false
	res, err := svc.Reserve(ctx, eventID, 3)
	require.NoError(t, err)
	assert.Len(t, res.TicketIDs, 3)
	assert.Equal(t, 3, testutil.CountTickets(t, bunDB, eventID, models.TicketStatusHeld))
}
