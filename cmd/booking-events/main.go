package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"ms-fairpass/internal/config"
	"ms-fairpass/internal/kafka"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

// booking-events tails the booking topics and logs one line per intent
// state change.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	group := flag.String("group", "fairpass-booking-events", "consumer group id")
	flag.Parse()

	log := logger.NewLoggerWithWriter(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), *group, log)
	defer consumer.Close()

	log.Info("KAFKA", fmt.Sprintf("Tailing %v on %v as %s", cfg.Kafka.Topics.All(), cfg.Kafka.Brokers, *group))
	if err := consumer.Start(ctx, func(event models.BookingEvent) {
		log.LogKafka(string(event.Type), event.EventID, describe(event))
	}); err != nil {
		log.Fatal("KAFKA", err.Error())
	}
}

func describe(event models.BookingEvent) string {
	line := fmt.Sprintf("intent %s tickets=%d [%s]", event.IntentID, len(event.TicketIDs), strings.Join(event.TicketIDs, ","))
	if event.Type == models.BookingReserved && !event.ExpiresAt.IsZero() {
		line += " expires " + event.ExpiresAt.UTC().Format("15:04:05")
	}
	return line
}
