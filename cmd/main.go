/**
 * @description
 * This is the main entry point for the vault-mirror-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the Helius admin client, message brokers, repositories,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/heliusclient: Client for the Helius webhook admin API.
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
	"github.com/solcustody/vault-mirror-service/internal/api"
	"github.com/solcustody/vault-mirror-service/internal/app"
	"github.com/solcustody/vault-mirror-service/internal/config"
	"github.com/solcustody/vault-mirror-service/internal/store"
	"github.com/solcustody/vault-mirror-service/pkg/heliusclient"
	rmrabbit "github.com/solcustody/vault-mirror-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.VaultProgramID == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"vault program id must be configured\" env=VAULT_PROGRAM_ID")
	}

	log.Printf("level=info component=bootstrap msg=\"starting vault-mirror-service\" port=%s program_id=%s", cfg.ServerPort, cfg.VaultProgramID)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Webhook deliveries fan out across owners, so keep a generous pool.
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
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

	// Initialize the RabbitMQ producer used to park out-of-order events.
	// A missing broker degrades to synchronous webhook failures, which the
	// relay's own redelivery covers, so boot proceeds with a warning.
	var retryPublisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; out-of-order events will fail the delivery\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		retryPublisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	if cfg.BalanceRateLimitPerMinute > 0 {
		if cfg.RedisURL == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; balance rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; balance rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; balance rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the decoder and the core application service.
	decoder := app.NewDecoder(cfg.VaultProgramID)
	vaultService := app.NewService(repository)

	// Initialize the API handlers.
	vaultHandlers := api.NewVaultHandlers(decoder, vaultService, retryPublisher, cfg.WebhookSecret, cfg.EventsExchange, cfg.ReconcileRetryRoutingKey)
	if redisClient != nil {
		vaultHandlers.SetRateLimiter(
			app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.BalanceRateLimitPerMinute,
		)
	}

	// Best-effort webhook registration with Helius. The mirror still serves
	// whatever the relay sends even if registration fails.
	if strings.TrimSpace(cfg.HeliusAPIKey) != "" && strings.TrimSpace(cfg.WebhookCallbackURL) != "" {
		heliusClient := heliusclient.NewClient(cfg.HeliusAPIBaseURL, cfg.HeliusAPIKey)
		registerCtx, cancelRegister := context.WithTimeout(context.Background(), 30*time.Second)
		webhook, registerErr := heliusClient.EnsureWebhook(registerCtx, cfg.WebhookCallbackURL, cfg.VaultProgramID, cfg.WebhookSecret)
		cancelRegister()
		if registerErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"helius webhook registration failed\" err=%v", registerErr)
		} else {
			log.Printf("level=info component=bootstrap msg=\"helius webhook ready\" webhook_id=%s", webhook.WebhookID)
		}
	} else {
		log.Println("level=info component=bootstrap msg=\"helius registration skipped; api key or callback url not configured\"")
	}

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/vault", api.VaultRoutes(vaultHandlers, cfg.AuthJWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the retry consumer: redeliveries for events that arrived before
	// their vault's initialize.
	retryConsumer := app.NewReconcileRetryConsumer(vaultService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	retryBindings := map[string]func([]byte) bool{
		cfg.ReconcileRetryRoutingKey: retryConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ReconcileRetryQueue, retryBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"retry consumer start failed\" err=%v", err)
	}

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
