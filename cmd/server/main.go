/**
 * @description
 * This is the main entry point for the transaction-service. It initializes
 * all components of the service: configuration, the database pool and schema
 * migrations, the RabbitMQ producer and approval-decision consumer, the
 * optional Redis rate limiter, the rule validator, the approval policy, the
 * ledger engine, and the HTTP server. It wires everything together and starts
 * the service with graceful shutdown.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/approval, internal/config, internal/rules, internal/store.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harborbank/transaction-service/internal/api"
	"github.com/harborbank/transaction-service/internal/app"
	"github.com/harborbank/transaction-service/internal/approval"
	"github.com/harborbank/transaction-service/internal/config"
	"github.com/harborbank/transaction-service/internal/rules"
	"github.com/harborbank/transaction-service/internal/store"
	"github.com/harborbank/transaction-service/pkg/rabbitmq"
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
	if strings.TrimSpace(cfg.StaffJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"staff jwt secret must be configured\" env=STAFF_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transaction-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if err := store.Migrate(context.Background(), dbpool); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}

	// Initialize the RabbitMQ producer for post-commit notification events.
	// The ledger never depends on the broker, so a missing broker degrades
	// to logged, skipped notifications.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.NopPublisher{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis client for submission rate limiting.
	var redisClient *redis.Client
	if cfg.SubmissionRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; submission rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submission rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submission rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer and the core components.
	repository := store.NewPostgresRepository(dbpool)
	validator := rules.NewValidator(cfg.Rules)
	policy := approval.NewPolicy(cfg.HighValueThreshold, cfg.ManagerApprovalThreshold)

	ledger := app.NewService(repository, validator, policy, producer, cfg.NotificationExchange)
	if redisClient != nil {
		ledger.SetSubmissionRateLimiter(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.SubmissionRateLimitPerMinute,
		)
	}

	// Wire the AMQP approval channel: branch-operations tooling publishes
	// decisions that flow through the same ApproveOrReject path as HTTP.
	decisionConsumer := app.NewApprovalDecisionConsumer(ledger)
	amqpConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; approval events disabled\" err=%v", err)
	} else {
		defer amqpConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"transaction.approval.decided": decisionConsumer.HandleMessage,
		}
		if err := amqpConsumer.ConsumeWithBindings(cfg.NotificationExchange, cfg.ApprovalEventQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"approval consumer start failed\" err=%v", err)
		}
	}

	// Initialize the API handlers and the router.
	handlers := api.NewTransactionHandlers(ledger)
	router := chi.NewRouter()
	router.Mount("/transactions", api.TransactionRoutes(handlers, cfg.InternalAPIKey, cfg.StaffJWTSecret))

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
