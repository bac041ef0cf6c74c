package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-fairpass/internal/auth"
	"ms-fairpass/internal/database/migrations"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

func main() {
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN (defaults to POSTGRES_DSN)")
	name := flag.String("name", "Demo Event", "event name")
	tickets := flag.Int("tickets", 100, "number of AVAILABLE tickets to create")
	reset := flag.Bool("reset", false, "delete existing events with the same name first")
	migrate := flag.Bool("migrate", true, "apply schema migrations before seeding")
	adminToken := flag.Bool("admin-token", false, "print an admin bearer token signed with ADMIN_JWT_SECRET")
	flag.Parse()

	log := logger.NewLoggerWithWriter(os.Stdout)

	if *dsn == "" {
		log.Fatal("SEED", "no DSN given, set -dsn or POSTGRES_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(*dsn))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	if *migrate {
		log.Info("SEED", "Applying migrations...")
		if err := migrations.Apply(ctx, bunDB, log); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to apply migrations: %v", err))
		}
	}

	inventory := &db.DB{Bun: bunDB}

	if *reset {
		if err := resetEvents(ctx, inventory, *name); err != nil {
			log.Fatal("SEED", fmt.Sprintf("Failed to reset %q: %v", *name, err))
		}
	}

	log.Info("SEED", fmt.Sprintf("Provisioning %q with %d tickets...", *name, *tickets))
	event, err := inventory.ProvisionEvent(ctx, models.CreateEventRequest{
		Name:         *name,
		TotalTickets: *tickets,
		StartDate:    time.Now().AddDate(0, 1, 0),
	}, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		log.Fatal("SEED", fmt.Sprintf("Failed to provision event: %v", err))
	}

	log.Info("SEED", fmt.Sprintf("✅ Done. event_id=%s", event.ID))
	fmt.Println(event.ID)

	if *adminToken {
		secret := os.Getenv("ADMIN_JWT_SECRET")
		if secret == "" {
			log.Fatal("AUTH", "ADMIN_JWT_SECRET is not set")
		}
		token, err := auth.NewAdminToken(secret, "seed", time.Hour)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to sign admin token: %v", err))
		}
		fmt.Println(token)
	}
}

func resetEvents(ctx context.Context, inventory *db.DB, name string) error {
	for {
		event, err := inventory.FindEventByName(ctx, name)
		if errors.Is(err, db.ErrEventNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := inventory.DeleteEvent(ctx, event.ID); err != nil {
			return err
		}
	}
}
