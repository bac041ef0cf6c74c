package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/config"
	"ms-fairpass/internal/database"
	"ms-fairpass/internal/database/migrations"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
	"ms-fairpass/internal/reservation"
)

type result struct {
	EventID   string
	Successes int
	SoldOut   int
	Transient int
	Other     int
	Available int
	Held      int
	Intents   int
}

// ok reports whether the run matched the no-oversell expectation for a
// single-ticket-per-request storm.
func (r result) ok(tickets, requests int) bool {
	want := tickets
	if requests < tickets {
		want = requests
	}
	return r.Successes == want &&
		r.SoldOut == requests-want &&
		r.Transient == 0 && r.Other == 0 &&
		r.Held == want &&
		r.Available == tickets-want &&
		r.Intents == want
}

func main() {
	_ = godotenv.Load()

	tickets := flag.Int("tickets", 10, "tickets to provision")
	requests := flag.Int("requests", 50, "concurrent reserve calls, one ticket each")
	flag.Parse()

	cfg := config.Load()
	log := logger.NewLoggerWithWriter(os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := migrations.Apply(ctx, bunDB, log); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to apply migrations: %v", err))
	}

	res, err := run(ctx, &db.DB{Bun: bunDB}, log, *tickets, *requests)
	if err != nil {
		log.Fatal("CHECK", err.Error())
	}

	fmt.Printf("event=%s successes=%d sold_out=%d transient=%d other=%d available=%d held=%d intents=%d\n",
		res.EventID, res.Successes, res.SoldOut, res.Transient, res.Other, res.Available, res.Held, res.Intents)

	if !res.ok(*tickets, *requests) {
		log.Error("CHECK", "❌ outcome does not match the no-oversell expectation")
		os.Exit(1)
	}
	log.Info("CHECK", "✅ no oversell")
}

func run(ctx context.Context, inventory *db.DB, log *logger.Logger, tickets, requests int) (result, error) {
	event, err := inventory.ProvisionEvent(ctx, models.CreateEventRequest{
		Name:         fmt.Sprintf("concurrency-check-%d", time.Now().UnixNano()),
		TotalTickets: tickets,
	}, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return result{}, fmt.Errorf("provision event: %w", err)
	}

	// No timers or producer: only the store is under test.
	svc := reservation.NewReservationService(reservation.NewStore(inventory), nil, nil, clock.NewSystem(), log,
		config.ReservationConfig{HoldDuration: reservation.DefaultHoldDuration})

	res := result{EventID: event.ID}
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Reserve(ctx, event.ID, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Successes++
			case errors.Is(err, reservation.ErrSoldOut):
				res.SoldOut++
			case errors.Is(err, reservation.ErrTransient):
				res.Transient++
			default:
				res.Other++
			}
		}()
	}
	close(start)
	wg.Wait()

	availability, err := inventory.Availability(ctx, event.ID)
	if err != nil {
		return res, fmt.Errorf("read availability: %w", err)
	}
	res.Available = availability.Available
	res.Held = availability.Held

	res.Intents, err = inventory.Bun.NewSelect().
		Model((*models.BookingIntent)(nil)).
		Where("event_id = ?", event.ID).
		Count(ctx)
	if err != nil {
		return res, fmt.Errorf("count intents: %w", err)
	}
	return res, nil
}
