package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-fairpass/internal/database/migrations"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// NewPostgres returns a migrated, empty Postgres database. TEST_DATABASE_URL
// wins over starting a container; the container is shared by every test in
// the package binary and reaped by testcontainers when the process exits.
func NewPostgres(t *testing.T) *bun.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		containerOnce.Do(func() {
			containerDSN, containerErr = startPostgres(context.Background())
		})
		if containerErr != nil {
			t.Skipf("Skipping Postgres integration test: %v", containerErr)
		}
		dsn = containerDSN
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	sqldb.SetMaxOpenConns(64)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := bunDB.PingContext(ctx); err != nil {
		t.Skipf("Skipping Postgres integration test: %v", err)
	}
	if err := migrations.Apply(ctx, bunDB, logger.NewLoggerWithWriter(io.Discard)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	TruncateAll(t, bunDB)
	return bunDB
}

func startPostgres(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fairpass",
				"POSTGRES_PASSWORD": "fairpass",
				"POSTGRES_DB":       "fairpass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://fairpass:fairpass@%s:%s/fairpass?sslmode=disable", host, port.Port()), nil
}

func TruncateAll(t *testing.T, db *bun.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`TRUNCATE booking_intent_tickets, booking_intents, tickets, events RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// InsertEvent creates an event with count AVAILABLE tickets and returns its id.
func InsertEvent(t *testing.T, db *bun.DB, name string, count int) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	event := &models.Event{
		ID:           uuid.NewString(),
		Name:         name,
		TotalTickets: count,
		StartDate:    now.Add(24 * time.Hour),
		CreatedAt:    now,
	}
	if _, err := db.NewInsert().Model(event).Exec(ctx); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	if count > 0 {
		tickets := make([]models.Ticket, count)
		for i := range tickets {
			tickets[i] = models.Ticket{
				ID:        uuid.NewString(),
				EventID:   event.ID,
				Status:    models.TicketStatusAvailable,
				CreatedAt: now,
			}
		}
		if _, err := db.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			t.Fatalf("insert tickets: %v", err)
		}
	}
	return event.ID
}

// CountTickets returns how many of the event's tickets are in status.
func CountTickets(t *testing.T, db *bun.DB, eventID string, status models.TicketStatus) int {
	t.Helper()
	n, err := db.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("status = ?", status).
		Count(context.Background())
	if err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	return n
}

func CountIntents(t *testing.T, db *bun.DB, eventID string) int {
	t.Helper()
	n, err := db.NewSelect().
		Model((*models.BookingIntent)(nil)).
		Where("event_id = ?", eventID).
		Count(context.Background())
	if err != nil {
		t.Fatalf("count intents: %v", err)
	}
	return n
}
