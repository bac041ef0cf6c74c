package holds

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

var (
	ErrIntentNotFound   = db.ErrIntentNotFound
	ErrIntentExpired    = errors.New("booking intent has expired")
	ErrIntentNotPending = errors.New("booking intent is no longer pending")
)

// TimerClearer drops the early-expiry timer of an intent that was settled.
type TimerClearer interface {
	Clear(ctx context.Context, intentID string) error
}

type KafkaPublisher interface {
	PublishBookingEvent(ctx context.Context, event models.BookingEvent) error
}

// HoldService settles pending intents: confirm sells the held tickets,
// cancel gives them back.
type HoldService struct {
	Store  Store
	Timers TimerClearer
	Kafka  KafkaPublisher
	Clock  clock.Clock
	Logger *logger.Logger
}

// NewHoldService wires a service. timers and kafka may be nil.
func NewHoldService(store Store, timers TimerClearer, kafka KafkaPublisher, clk clock.Clock, log *logger.Logger) *HoldService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewLoggerWithWriter(io.Discard)
	}
	return &HoldService{Store: store, Timers: timers, Kafka: kafka, Clock: clk, Logger: log}
}

func (s *HoldService) Get(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	return s.Store.GetIntent(ctx, intentID)
}

// Confirm completes a PENDING intent whose hold has not lapsed and marks its
// tickets SOLD. An intent found past its expiry is expired on the spot and
// ErrIntentExpired is returned.
func (s *HoldService) Confirm(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	var result *models.IntentWithTickets
	expired := false

	err := s.Store.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		intent, err := l.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != models.IntentStatusPending {
			return fmt.Errorf("%w: status is %s", ErrIntentNotPending, intent.Status)
		}

		now := s.Clock.Now()
		if !now.Before(intent.ExpiresAt) {
			ids, err := expire(ctx, l, intent, now)
			if err != nil {
				return err
			}
			expired = true
			result = &models.IntentWithTickets{BookingIntent: *intent, TicketIDs: ids}
			return nil
		}

		ids, err := l.TicketIDsForIntent(ctx, intentID)
		if err != nil {
			return err
		}
		n, err := l.TransitionTickets(ctx, ids, models.TicketStatusHeld, models.TicketStatusSold)
		if err != nil {
			return err
		}
		if n != len(ids) {
			return fmt.Errorf("%w: sold %d of %d tickets", db.ErrTicketStateChanged, n, len(ids))
		}
		if err := l.SetIntentStatus(ctx, intentID, models.IntentStatusCompleted, now); err != nil {
			return err
		}

		intent.Status = models.IntentStatusCompleted
		intent.UpdatedAt = now
		result = &models.IntentWithTickets{BookingIntent: *intent, TicketIDs: ids}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.Logger.LogHold("EXPIRED", intentID, "confirm arrived after the hold lapsed")
		s.settled(ctx, models.BookingExpired, result)
		return nil, ErrIntentExpired
	}

	s.Logger.LogHold("CONFIRMED", intentID, fmt.Sprintf("%d tickets sold", len(result.TicketIDs)))
	s.settled(ctx, models.BookingConfirmed, result)
	return result, nil
}

// Cancel releases the tickets of a PENDING intent and marks it CANCELLED.
func (s *HoldService) Cancel(ctx context.Context, intentID string) (*models.IntentWithTickets, error) {
	var result *models.IntentWithTickets

	err := s.Store.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		intent, err := l.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != models.IntentStatusPending {
			return fmt.Errorf("%w: status is %s", ErrIntentNotPending, intent.Status)
		}

		ids, err := l.TicketIDsForIntent(ctx, intentID)
		if err != nil {
			return err
		}
		if _, err := l.TransitionTickets(ctx, ids, models.TicketStatusHeld, models.TicketStatusAvailable); err != nil {
			return err
		}

		now := s.Clock.Now()
		if err := l.SetIntentStatus(ctx, intentID, models.IntentStatusCancelled, now); err != nil {
			return err
		}
		intent.Status = models.IntentStatusCancelled
		intent.UpdatedAt = now
		result = &models.IntentWithTickets{BookingIntent: *intent, TicketIDs: ids}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogHold("CANCELLED", intentID, fmt.Sprintf("%d tickets released", len(result.TicketIDs)))
	s.settled(ctx, models.BookingCancelled, result)
	return result, nil
}

func (s *HoldService) settled(ctx context.Context, eventType models.BookingEventType, intent *models.IntentWithTickets) {
	ctx = context.WithoutCancel(ctx)

	if s.Timers != nil {
		if err := s.Timers.Clear(ctx, intent.ID); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Failed to clear expiry timer for intent %s: %v", intent.ID, err))
		}
	}
	publish(ctx, s.Kafka, s.Logger, s.Clock, eventType, intent)
}

func publish(ctx context.Context, kafka KafkaPublisher, log *logger.Logger, clk clock.Clock, eventType models.BookingEventType, intent *models.IntentWithTickets) {
	if kafka == nil {
		return
	}
	event := models.BookingEvent{
		Type:       eventType,
		IntentID:   intent.ID,
		EventID:    intent.EventID,
		TicketIDs:  intent.TicketIDs,
		ExpiresAt:  intent.ExpiresAt,
		OccurredAt: clk.Now(),
	}
	if err := kafka.PublishBookingEvent(ctx, event); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for intent %s: %v", eventType, intent.ID, err))
	}
}
