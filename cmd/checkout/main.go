package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger("checkout-service")
	defer logger.Sync()

	m := metrics.New()
	var checks []handlers.ReadinessCheck

	store, db := initStore(cfg, logger)
	if db != nil {
		defer db.Close()
		checks = append(checks, handlers.ReadinessCheck{Name: "postgres", Check: db.PingContext})
	}

	var redisClient *redis.Client
	if cfg.Features.EnableHistoryCache || cfg.Features.EnableCallbackConsumer {
		redisClient = repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	var historyCache repository.OrderHistoryCache = repository.NopHistoryCache{}
	if cfg.Features.EnableHistoryCache {
		historyCache = repository.NewRedisHistoryCache(redisClient, cfg.Redis.TTL, logger.Named("history-cache"))
	}

	gatewayClient := clients.NewHTTPGatewayClient(cfg.Gateway, logger.Named("gateway"))
	membershipClient := clients.NewHTTPMembershipClient(cfg.MembershipService, logger.Named("membership"))
	notificationClient := clients.NewHTTPNotificationClient(cfg.NotificationService, logger.Named("notifications"))

	var eventPublisher service.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		publisher := events.NewKafkaPublisher(cfg.Kafka, logger.Named("events"))
		defer publisher.Close()
		eventPublisher = publisher
	}

	dispatcher := service.NewNotificationDispatcher(
		notificationClient,
		eventPublisher,
		cfg.Notifications,
		m,
		logger.Named("dispatcher"),
	)

	draftService := service.NewDraftService(store, cfg, m, logger.Named("drafts"))
	paymentService := service.NewPaymentService(
		store,
		gatewayClient,
		membershipClient,
		dispatcher,
		historyCache,
		cfg,
		m,
		logger.Named("payments"),
	)
	historyService := service.NewHistoryService(store, historyCache, cfg.Features.EnableHistoryCache, logger.Named("history"))

	h := handlers.NewHandlers(draftService, paymentService, historyService, cfg, logger.Named("handlers"), checks...)
	srv := server.New(h, cfg, m, logger.Named("server"))

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                     cfg.Server.Port,
			"storage_driver":           cfg.Storage.Driver,
			"enable_history_cache":     cfg.Features.EnableHistoryCache,
			"enable_order_events":      cfg.Features.EnableOrderEvents,
			"enable_callback_consumer": cfg.Features.EnableCallbackConsumer,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	var consumer *events.CallbackConsumer
	if cfg.Features.EnableCallbackConsumer {
		dedup := events.NewRedisDeduplicator(redisClient, cfg.Kafka.DedupTTL)
		consumer = events.NewCallbackConsumer(cfg.Kafka, paymentService, dedup, m, logger.Named("callbacks"))
		go func() {
			if err := consumer.Start(context.Background()); err != nil {
				logger.Error("Callback consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}

	waitForNotifications(ctx, paymentService, logger)

	logger.Info("Server exited")
}

func initStore(cfg *config.Config, logger *logging.Logger) (repository.Store, *sql.DB) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := repository.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			logger.Fatal("Failed to migrate database", logging.Fields{"error": err.Error()})
		}
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return repository.NewPostgresStore(db, logger.Named("postgres")), db
}

// waitForNotifications lets in-flight confirmation notices finish until ctx
// expires.
func waitForNotifications(ctx context.Context, payments *service.PaymentService, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		payments.WaitForNotifications()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Pending notifications abandoned at shutdown")
	}
}
