package holds

import (
	"context"
	"fmt"
	"io"
	"time"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

const (
	DefaultSweepInterval  = 30 * time.Second
	DefaultSweepBatchSize = 500
)

type SweepResult struct {
	ExpiredIntents  int
	ReleasedTickets int
	OrphansReleased int
}

// Sweeper returns lapsed holds to the AVAILABLE pool. It is the source of
// truth for expiry; Redis timers only make it happen sooner.
type Sweeper struct {
	Store     Store
	Kafka     KafkaPublisher
	Clock     clock.Clock
	Logger    *logger.Logger
	Interval  time.Duration
	BatchSize int
}

func NewSweeper(store Store, kafka KafkaPublisher, clk clock.Clock, log *logger.Logger, interval time.Duration, batchSize int) *Sweeper {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewLoggerWithWriter(io.Discard)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &Sweeper{Store: store, Kafka: kafka, Clock: clk, Logger: log, Interval: interval, BatchSize: batchSize}
}

// Sweep expires one batch of lapsed PENDING intents and releases held
// tickets that no pending intent claims any more.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var expired []*models.IntentWithTickets
	now := s.Clock.Now()

	err := s.Store.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		result = SweepResult{}
		expired = expired[:0]

		intents, err := l.LockExpiredIntents(ctx, now, s.BatchSize)
		if err != nil {
			return err
		}
		for i := range intents {
			ids, err := expire(ctx, l, &intents[i], now)
			if err != nil {
				return err
			}
			result.ExpiredIntents++
			result.ReleasedTickets += len(ids)
			expired = append(expired, &models.IntentWithTickets{BookingIntent: intents[i], TicketIDs: ids})
		}

		orphans, err := l.ReleaseOrphanHolds(ctx, now, s.BatchSize)
		if err != nil {
			return err
		}
		result.OrphansReleased = orphans
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep expired holds: %w", err)
	}

	for _, intent := range expired {
		publish(ctx, s.Kafka, s.Logger, s.Clock, models.BookingExpired, intent)
	}
	if result.ExpiredIntents > 0 || result.OrphansReleased > 0 {
		s.Logger.Info("SWEEPER", fmt.Sprintf("Expired %d intents, released %d tickets (%d orphaned)",
			result.ExpiredIntents, result.ReleasedTickets+result.OrphansReleased, result.OrphansReleased))
	}
	return result, nil
}

// ExpireIntent expires a single intent if it is still PENDING and its hold
// has lapsed. It reports whether anything changed.
func (s *Sweeper) ExpireIntent(ctx context.Context, intentID string) (bool, error) {
	var expired *models.IntentWithTickets
	now := s.Clock.Now()

	err := s.Store.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		intent, err := l.GetIntentForUpdate(ctx, intentID)
		if err != nil {
			return err
		}
		if intent.Status != models.IntentStatusPending || now.Before(intent.ExpiresAt) {
			return nil
		}
		ids, err := expire(ctx, l, intent, now)
		if err != nil {
			return err
		}
		expired = &models.IntentWithTickets{BookingIntent: *intent, TicketIDs: ids}
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	s.Logger.LogHold("EXPIRED", intentID, fmt.Sprintf("%d tickets released", len(expired.TicketIDs)))
	publish(ctx, s.Kafka, s.Logger, s.Clock, models.BookingExpired, expired)
	return true, nil
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("SWEEPER", fmt.Sprintf("Hold sweeper started (interval %s, batch %d)", s.Interval, s.BatchSize))
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error("SWEEPER", err.Error())
		}

		select {
		case <-ctx.Done():
			s.Logger.Info("SWEEPER", "Hold sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
