package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"ms-fairpass/internal/auth"
	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/config"
	"ms-fairpass/internal/database"
	"ms-fairpass/internal/database/migrations"
	"ms-fairpass/internal/holds"
	"ms-fairpass/internal/holds/holds_api"
	"ms-fairpass/internal/holds/pass"
	"ms-fairpass/internal/inventory/db"
	"ms-fairpass/internal/kafka"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/reservation"
	"ms-fairpass/internal/reservation/reservation_api"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.Log.Dir, "fairpass", logger.ParseLevel(cfg.Log.Level))
	defer log.Close()

	log.Info("APP", "Starting Reservation Service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, bunDB, log); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to apply migrations: %v", err))
		}
	}

	clk := clock.NewSystem()
	inventory := &db.DB{Bun: bunDB}

	var (
		reserveEvents reservation.KafkaPublisher
		holdEvents    holds.KafkaPublisher
	)
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		reserveEvents, holdEvents = producer, producer
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Info("KAFKA", "Kafka disabled, booking events will not be published")
	}

	var (
		redisTimers   *holds.RedisTimers
		reserveTimers reservation.HoldTimers
		holdTimers    holds.TimerClearer
	)
	if cfg.Redis.Addr != "" {
		redisTimers = connectRedis(ctx, cfg.Redis, clk, log)
		if redisTimers != nil {
			defer redisTimers.Client.Close()
			reserveTimers, holdTimers = redisTimers, redisTimers
		}
	} else {
		log.Info("REDIS", "REDIS_ADDR not set, expiry relies on the sweeper alone")
	}

	reservationService := reservation.NewReservationService(reservation.NewStore(inventory), reserveTimers, reserveEvents, clk, log, cfg.Reservation)
	holdService := holds.NewHoldService(holds.NewStore(inventory), holdTimers, holdEvents, clk, log)
	sweeper := holds.NewSweeper(holds.NewStore(inventory), holdEvents, clk, log, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize)

	var wg sync.WaitGroup
	if cfg.Sweeper.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}
	if redisTimers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := redisTimers.Subscribe(ctx, func(ctx context.Context, intentID string) {
				if _, err := sweeper.ExpireIntent(ctx, intentID); err != nil && !errors.Is(err, holds.ErrIntentNotFound) {
					log.Warn("REDIS", fmt.Sprintf("Early expiry of intent %s failed, sweeper will retry: %v", intentID, err))
				}
			})
			if err != nil {
				log.Error("REDIS", fmt.Sprintf("Hold timer subscription ended: %v", err))
			}
		}()
	}

	verifier := adminVerifier(ctx, cfg.Auth, log)

	reservationHandler := reservation_api.NewHandler(reservationService, inventory, clk, log)
	holdHandler := holds_api.NewHandler(holdService, log)
	if cfg.Pass.Secret != "" {
		passes, err := pass.NewGenerator(cfg.Pass.Secret)
		if err != nil {
			log.Fatal("APP", fmt.Sprintf("Failed to create ticket pass generator: %v", err))
		}
		holdHandler.Passes = passes
		log.Info("APP", "Ticket pass QR codes enabled")
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := newRouter(log, bunDB, func(r chi.Router) {
		reservationHandler.RegisterRoutes(r)
		holdHandler.RegisterRoutes(r)
		log.Info("ROUTER", "Reservation and intent routes registered under /api")

		if verifier != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin(verifier, log))
				reservationHandler.RegisterAdminRoutes(r)
			})
			log.Info("ROUTER", "Admin routes registered under /api/admin")
		}
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Reservation Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	wg.Wait()
	log.Info("HTTP", "✅ Reservation Service shutdown complete")
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, clk clock.Clock, log *logger.Logger) *holds.RedisTimers {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis connection error, continuing without hold timers: %v", err))
		client.Close()
		return nil
	}

	timers := holds.NewRedisTimers(client, clk, log)
	if err := timers.EnableNotifications(ctx); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return timers
}

// adminVerifier returns nil when neither an OIDC issuer nor a shared secret
// is configured; admin routes are then not mounted.
func adminVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	switch {
	case cfg.OIDCIssuer != "":
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Error("AUTH", fmt.Sprintf("Admin routes disabled: %v", err))
			return nil
		}
		log.Info("AUTH", fmt.Sprintf("Admin tokens verified against %s", cfg.OIDCIssuer))
		return verifier
	case cfg.AdminJWTSecret != "":
		log.Info("AUTH", "Admin tokens verified with ADMIN_JWT_SECRET")
		return auth.NewHMACVerifier(cfg.AdminJWTSecret)
	default:
		log.Warn("AUTH", "No admin token verifier configured, admin routes disabled")
		return nil
	}
}
