/**
 * @description
 * This is the main entry point for the fraud-review-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the seeded case table, the Redis rate limiter, message
 * brokers, repositories, the core application service, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/dataset, internal/store: Internal packages.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/omnibank/fraud-review-service/internal/api"
	"github.com/omnibank/fraud-review-service/internal/app"
	"github.com/omnibank/fraud-review-service/internal/config"
	"github.com/omnibank/fraud-review-service/internal/dataset"
	"github.com/omnibank/fraud-review-service/internal/store"
	"github.com/omnibank/fraud-review-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting fraud-review-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Seed the hand-authored case table. Seeding is idempotent: rows whose
	// lookup key already exists are left untouched.
	seeds, err := dataset.Load()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"case table load failed\" err=%v", err)
	}
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	inserted, err := repository.SeedCases(seedCtx, seeds)
	cancelSeed()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"case seeding failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"case table seeded\" total=%d inserted=%d", len(seeds), inserted)

	// Connect Redis for rate limiting. A missing or unreachable Redis disables
	// throttling rather than blocking startup.
	var redisClient *redis.Client
	rateLimitingEnabled := cfg.LookupRateLimitPerMinute > 0 || cfg.VerifyRateLimitPerMinute > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the outcome audit log.
	audit := app.NewAuditLog(cfg.AuditLogPath)

	// Initialize the core application service with its dependencies.
	fraudService := app.NewService(
		repository,
		audit,
		cfg.EventsExchange,
		cfg.VerificationMaxAttempts,
		cfg.VerificationLockoutSeconds,
	)
	fraudService.ConfigureRateLimits(cfg.LookupRateLimitPerMinute, cfg.VerifyRateLimitPerMinute)
	if redisClient != nil {
		fraudService.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
	}

	// Start the outbox dispatcher that publishes case outcomes to RabbitMQ.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	dispatcher := app.NewOutboxDispatcher(repository, cfg.RabbitMQURL)
	go dispatcher.Run(dispatcherCtx)

	// Wire up the flagged-transaction consumer so upstream monitoring can open
	// cases. A missing broker degrades intake to the seeded table only.
	flaggedConsumer := app.NewFlaggedTransactionConsumer(repository)
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; flagged-transaction intake disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"transaction.flagged": flaggedConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.FlaggedEventQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"flagged consumer start failed; intake disabled\" err=%v", err)
		}
	}

	// Initialize the API handlers and router.
	caseHandlers := api.NewCaseHandlers(fraudService)
	router := api.FraudReviewRoutes(caseHandlers, cfg.InternalAPIKey, cfg.OperatorJWKSURL)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	cancelDispatcher()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
