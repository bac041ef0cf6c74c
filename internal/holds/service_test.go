package holds_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/holds"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/models"
)

// Mock implementations
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetIntentForUpdate(ctx context.Context, intentID string) (*models.BookingIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// hand out a copy so the service cannot mutate the fixture
	intent := *args.Get(0).(*models.BookingIntent)
	return &intent, args.Error(1)
}

func (m *MockLedger) TicketIDsForIntent(ctx context.Context, intentID string) ([]string, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLedger) SetIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) error {
	args := m.Called(ctx, intentID, status, now)
	return args.Error(0)
}

func (m *MockLedger) TransitionTickets(ctx context.Context, ticketIDs []string, from, to models.TicketStatus) (int, error) {
	args := m.Called(ctx, ticketIDs, from, to)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) LockExpiredIntents(ctx context.Context, now time.Time, limit int) ([]models.BookingIntent, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BookingIntent), args.Error(1)
}

func (m *MockLedger) ReleaseOrphanHolds(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(ctx, now, limit)
	return args.Int(0), args.Error(1)
}

type MockStore struct {
	mock.Mock
	Ledger *MockLedger
}

func (m *MockStore) GetIntent(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IntentWithTickets), args.Error(1)
}

func (m *MockStore) RunInTx(ctx context.Context, fn func(ctx context.Context, l holds.Ledger) error) error {
	return fn(ctx, m.Ledger)
}

type MockTimers struct {
	mock.Mock
}

func (m *MockTimers) Clear(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

type MockKafkaProducer struct {
	mock.Mock
}

func (m *MockKafkaProducer) PublishBookingEvent(ctx context.Context, event models.BookingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func pendingIntent(expiresAt time.Time) *models.BookingIntent {
	return &models.BookingIntent{
		ID:        "intent-1",
		EventID:   "event-1",
		Status:    models.IntentStatusPending,
		Quantity:  2,
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-5 * time.Minute),
	}
}

func newHoldService() (*holds.HoldService, *MockLedger, *MockTimers, *MockKafkaProducer) {
	ledger := &MockLedger{}
	timers := &MockTimers{}
	kafka := &MockKafkaProducer{}
	svc := holds.NewHoldService(&MockStore{Ledger: ledger}, timers, kafka, clock.NewFixed(now), nil)
	return svc, ledger, timers, kafka
}

func publishedType(t models.BookingEventType) interface{} {
	return mock.MatchedBy(func(e models.BookingEvent) bool { return e.Type == t && e.IntentID == "intent-1" })
}

func TestConfirmSellsHeldTickets(t *testing.T) {
	svc, ledger, timers, kafka := newHoldService()
	ids := []string{"t1", "t2"}

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now.Add(time.Minute)), nil)
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return(ids, nil)
	ledger.On("TransitionTickets", mock.Anything, ids, models.TicketStatusHeld, models.TicketStatusSold).Return(2, nil)
	ledger.On("SetIntentStatus", mock.Anything, "intent-1", models.IntentStatusCompleted, now).Return(nil)
	timers.On("Clear", mock.Anything, "intent-1").Return(nil)
	kafka.On("PublishBookingEvent", mock.Anything, publishedType(models.BookingConfirmed)).Return(nil)

	intent, err := svc.Confirm(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, intent.Status)
	assert.Equal(t, ids, intent.TicketIDs)

	ledger.AssertExpectations(t)
	timers.AssertExpectations(t)
	kafka.AssertExpectations(t)
}

func TestConfirmAfterExpiryReleasesTickets(t *testing.T) {
	svc, ledger, timers, kafka := newHoldService()
	ids := []string{"t1", "t2"}

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now), nil)
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return(ids, nil)
	ledger.On("TransitionTickets", mock.Anything, ids, models.TicketStatusHeld, models.TicketStatusAvailable).Return(2, nil)
	ledger.On("SetIntentStatus", mock.Anything, "intent-1", models.IntentStatusExpired, now).Return(nil)
	timers.On("Clear", mock.Anything, "intent-1").Return(nil)
	kafka.On("PublishBookingEvent", mock.Anything, publishedType(models.BookingExpired)).Return(nil)

	intent, err := svc.Confirm(context.Background(), "intent-1")
	assert.Nil(t, intent)
	assert.ErrorIs(t, err, holds.ErrIntentExpired)
	ledger.AssertNotCalled(t, "TransitionTickets", mock.Anything, mock.Anything, models.TicketStatusHeld, models.TicketStatusSold)
	kafka.AssertExpectations(t)
}

func TestConfirmRejectsSettledIntent(t *testing.T) {
	svc, ledger, _, kafka := newHoldService()
	settled := pendingIntent(now.Add(time.Minute))
	settled.Status = models.IntentStatusCancelled
	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(settled, nil)

	_, err := svc.Confirm(context.Background(), "intent-1")
	assert.ErrorIs(t, err, holds.ErrIntentNotPending)
	kafka.AssertNotCalled(t, "PublishBookingEvent", mock.Anything, mock.Anything)
}

func TestConfirmDetectsTicketDrift(t *testing.T) {
	svc, ledger, _, _ := newHoldService()
	ids := []string{"t1", "t2"}

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now.Add(time.Minute)), nil)
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return(ids, nil)
	ledger.On("TransitionTickets", mock.Anything, ids, models.TicketStatusHeld, models.TicketStatusSold).Return(1, nil)

	_, err := svc.Confirm(context.Background(), "intent-1")
	assert.ErrorIs(t, err, db.ErrTicketStateChanged)
	ledger.AssertNotCalled(t, "SetIntentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmUnknownIntent(t *testing.T) {
	svc, ledger, _, _ := newHoldService()
	ledger.On("GetIntentForUpdate", mock.Anything, "missing").Return(nil, db.ErrIntentNotFound)

	_, err := svc.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, holds.ErrIntentNotFound)
}

func TestCancelReleasesTickets(t *testing.T) {
	svc, ledger, timers, kafka := newHoldService()
	ids := []string{"t1", "t2"}

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now.Add(time.Minute)), nil)
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return(ids, nil)
	ledger.On("TransitionTickets", mock.Anything, ids, models.TicketStatusHeld, models.TicketStatusAvailable).Return(2, nil)
	ledger.On("SetIntentStatus", mock.Anything, "intent-1", models.IntentStatusCancelled, now).Return(nil)
	timers.On("Clear", mock.Anything, "intent-1").Return(errors.New("redis down"))
	kafka.On("PublishBookingEvent", mock.Anything, publishedType(models.BookingCancelled)).Return(errors.New("kafka down"))

	intent, err := svc.Cancel(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCancelled, intent.Status)
	ledger.AssertExpectations(t)
}

func TestCancelRejectsSettledIntent(t *testing.T) {
	svc, ledger, _, _ := newHoldService()
	settled := pendingIntent(now.Add(time.Minute))
	settled.Status = models.IntentStatusCompleted
	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(settled, nil)

	_, err := svc.Cancel(context.Background(), "intent-1")
	assert.ErrorIs(t, err, holds.ErrIntentNotPending)
}

func TestSweepExpiresLapsedIntents(t *testing.T) {
	ledger := &MockLedger{}
	kafka := &MockKafkaProducer{}
	sweeper := holds.NewSweeper(&MockStore{Ledger: ledger}, kafka, clock.NewFixed(now), nil, 0, 0)
	assert.Equal(t, holds.DefaultSweepBatchSize, sweeper.BatchSize)
	assert.Equal(t, holds.DefaultSweepInterval, sweeper.Interval)

	lapsed := []models.BookingIntent{*pendingIntent(now.Add(-time.Minute))}
	ledger.On("LockExpiredIntents", mock.Anything, now, holds.DefaultSweepBatchSize).Return(lapsed, nil)
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return([]string{"t1", "t2"}, nil)
	ledger.On("TransitionTickets", mock.Anything, []string{"t1", "t2"}, models.TicketStatusHeld, models.TicketStatusAvailable).Return(2, nil)
	ledger.On("SetIntentStatus", mock.Anything, "intent-1", models.IntentStatusExpired, now).Return(nil)
	ledger.On("ReleaseOrphanHolds", mock.Anything, now, holds.DefaultSweepBatchSize).Return(3, nil)
	kafka.On("PublishBookingEvent", mock.Anything, publishedType(models.BookingExpired)).Return(nil)

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, holds.SweepResult{ExpiredIntents: 1, ReleasedTickets: 2, OrphansReleased: 3}, result)
	kafka.AssertExpectations(t)
}

func TestSweepReportsStoreFailure(t *testing.T) {
	ledger := &MockLedger{}
	sweeper := holds.NewSweeper(&MockStore{Ledger: ledger}, nil, clock.NewFixed(now), nil, time.Second, 10)
	ledger.On("LockExpiredIntents", mock.Anything, now, 10).Return(nil, errors.New("connection reset"))

	_, err := sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestExpireIntentOnlyWhenLapsed(t *testing.T) {
	ledger := &MockLedger{}
	sweeper := holds.NewSweeper(&MockStore{Ledger: ledger}, nil, clock.NewFixed(now), nil, 0, 0)

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now.Add(time.Second)), nil).Once()
	changed, err := sweeper.ExpireIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.False(t, changed)

	ledger.On("GetIntentForUpdate", mock.Anything, "intent-1").Return(pendingIntent(now.Add(-time.Second)), nil).Once()
	ledger.On("TicketIDsForIntent", mock.Anything, "intent-1").Return([]string{"t1"}, nil)
	ledger.On("TransitionTickets", mock.Anything, []string{"t1"}, models.TicketStatusHeld, models.TicketStatusAvailable).Return(1, nil)
	ledger.On("SetIntentStatus", mock.Anything, "intent-1", models.IntentStatusExpired, now).Return(nil)

	changed, err = sweeper.ExpireIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestRunStopsWithContext(t *testing.T) {
	ledger := &MockLedger{}
	sweeper := holds.NewSweeper(&MockStore{Ledger: ledger}, nil, clock.NewFixed(now), nil, 10*time.Millisecond, 5)
	ledger.On("LockExpiredIntents", mock.Anything, now, 5).Return([]models.BookingIntent{}, nil)
	swept := make(chan struct{}, 1)
	ledger.On("ReleaseOrphanHolds", mock.Anything, now, 5).Return(0, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never swept")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
