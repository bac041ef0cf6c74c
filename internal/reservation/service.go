package reservation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/config"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

const (
	DefaultHoldDuration = 5 * time.Minute
	postCommitTimeout   = 2 * time.Second
)

// HoldTimers gets told about every new hold so it can be expired early.
type HoldTimers interface {
	Schedule(ctx context.Context, intentID string, expiresAt time.Time) error
}

type KafkaPublisher interface {
	PublishBookingEvent(ctx context.Context, event models.BookingEvent) error
}

// ReservationService turns reserve requests into held tickets plus a pending
// booking intent. Store row locks are its only synchronization: there is no
// in-process mutex and no cached inventory.
type ReservationService struct {
	Store  Store
	Timers HoldTimers
	Kafka  KafkaPublisher
	Clock  clock.Clock
	Logger *logger.Logger

	HoldDuration time.Duration
	// MaxQuantity caps a single request; 0 means no cap.
	MaxQuantity int
	// Timeout bounds the whole call including lock waits; 0 means none.
	Timeout time.Duration
}

// NewReservationService wires a service. timers and kafka may be nil.
func NewReservationService(store Store, timers HoldTimers, kafka KafkaPublisher, clk clock.Clock, log *logger.Logger, cfg config.ReservationConfig) *ReservationService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewLoggerWithWriter(io.Discard)
	}
	hold := cfg.HoldDuration
	if hold <= 0 {
		hold = DefaultHoldDuration
	}
	return &ReservationService{
		Store:        store,
		Timers:       timers,
		Kafka:        kafka,
		Clock:        clk,
		Logger:       log,
		HoldDuration: hold,
		MaxQuantity:  cfg.MaxPerRequest,
		Timeout:      cfg.StatementTimeout,
	}
}

// Reserve holds exactly quantity tickets of the event for HoldDuration and
// records a PENDING booking intent with the same expiry, all in one
// transaction. It either does all of that or nothing.
//
// Failures are always *Error: KindInvalidArgument before the store is
// touched, KindSoldOut when fewer than quantity tickets could be claimed,
// KindTransient when the store failed. Reserve never retries on its own.
func (s *ReservationService) Reserve(ctx context.Context, eventID string, quantity int) (*models.Reservation, error) {
	if quantity < 1 {
		return nil, invalid(eventID, quantity, ErrInvalidQuantity)
	}
	if s.MaxQuantity > 0 && quantity > s.MaxQuantity {
		return nil, invalid(eventID, quantity, fmt.Errorf("%w (max %d)", ErrQuantityTooLarge, s.MaxQuantity))
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, invalid(eventID, quantity, ErrInvalidEventID)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	exists, err := s.Store.EventExists(ctx, eventID)
	if err != nil {
		return nil, s.transient(eventID, quantity, err)
	}
	if !exists {
		return nil, invalid(eventID, quantity, ErrEventNotFound)
	}

	var reservation *models.Reservation
	claimable := 0

	err = s.Store.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		ticketIDs, err := l.LockAvailableTickets(ctx, eventID, quantity)
		if err != nil {
			return err
		}
		if len(ticketIDs) < quantity {
			claimable = len(ticketIDs)
			return ErrSoldOut
		}

		// Postgres keeps microseconds; truncate so the caller sees the
		// stored value.
		now := s.Clock.Now().UTC().Truncate(time.Microsecond)
		expiresAt := now.Add(s.HoldDuration)

		if err := l.MarkHeld(ctx, ticketIDs, expiresAt); err != nil {
			return err
		}

		intent := &models.BookingIntent{
			ID:        uuid.NewString(),
			EventID:   eventID,
			Status:    models.IntentStatusPending,
			Quantity:  quantity,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		if err := l.InsertIntent(ctx, intent); err != nil {
			return err
		}
		if err := l.LinkTickets(ctx, intent.ID, ticketIDs); err != nil {
			return err
		}

		reservation = &models.Reservation{
			IntentID:  intent.ID,
			EventID:   eventID,
			TicketIDs: ticketIDs,
			ExpiresAt: expiresAt,
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrSoldOut):
		s.Logger.LogReservation("SOLD_OUT", eventID, fmt.Sprintf("requested %d, claimable %d", quantity, claimable))
		return nil, &Error{
			Kind:      KindSoldOut,
			EventID:   eventID,
			Quantity:  quantity,
			Available: claimable,
			Err:       ErrSoldOut,
		}
	case err != nil:
		return nil, s.transient(eventID, quantity, err)
	}

	s.Logger.LogReservation("HELD", reservation.IntentID,
		fmt.Sprintf("%d tickets of event %s until %s", quantity, eventID, reservation.ExpiresAt.Format(time.RFC3339)))
	s.afterCommit(ctx, reservation)
	return reservation, nil
}

// afterCommit runs the best-effort side effects of a committed reservation.
// Their failures are logged and never change the result.
func (s *ReservationService) afterCommit(ctx context.Context, r *models.Reservation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	if s.Timers != nil {
		if err := s.Timers.Schedule(ctx, r.IntentID, r.ExpiresAt); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Failed to schedule expiry for intent %s: %v", r.IntentID, err))
		}
	}

	if s.Kafka != nil {
		event := models.BookingEvent{
			Type:       models.BookingReserved,
			IntentID:   r.IntentID,
			EventID:    r.EventID,
			TicketIDs:  r.TicketIDs,
			ExpiresAt:  r.ExpiresAt,
			OccurredAt: s.Clock.Now().UTC(),
		}
		if err := s.Kafka.PublishBookingEvent(ctx, event); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for intent %s: %v", event.Type, r.IntentID, err))
		}
	}
}

func invalid(eventID string, quantity int, err error) *Error {
	return &Error{Kind: KindInvalidArgument, EventID: eventID, Quantity: quantity, Err: err}
}

func (s *ReservationService) transient(eventID string, quantity int, err error) *Error {
	retryable := isRetryableStoreError(err)
	s.Logger.Error("RESERVE", fmt.Sprintf("Store failure reserving %d tickets of event %s (retryable=%t): %v", quantity, eventID, retryable, err))
	return &Error{
		Kind:      KindTransient,
		EventID:   eventID,
		Quantity:  quantity,
		Retryable: retryable,
		Err:       err,
	}
}
