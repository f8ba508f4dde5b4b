package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/api/rest"
	"github.com/Dhoini/Billing-microservice/internal/config"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/gateway"
	"github.com/Dhoini/Billing-microservice/internal/kafka"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/repository/postgres"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.New(logger.DEBUG)

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load config", "error", err)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	dbPool, err := postgres.NewConnection(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	chargeRepo := repository.ChargeRepository(postgres.NewPostgresChargeRepository(dbPool, log))
	eventRepo := postgres.NewPostgresWebhookEventRepository(dbPool, log)
	customerRepo := postgres.NewPostgresCustomerRepository(dbPool, log)
	productCatalog := postgres.NewPostgresProductCatalog(dbPool, log)

	// Кеш опционален: без Redis сервис работает напрямую с БД
	cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warnw("Redis unavailable, running without charge cache", "error", err)
	} else {
		chargeRepo = repository.NewCachedChargeRepository(chargeRepo, cache, log)
	}

	// Kafka опциональна: события жизненного цикла деградируют в no-op
	var producer kafka.Producer = kafka.NoOpProducer{}
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
		kafkaProducer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Warnw("Kafka unavailable, charge events will not be published", "error", err)
		} else {
			producer = kafkaProducer
			defer func() {
				if err := producer.Close(); err != nil {
					log.Errorw("Failed to close Kafka producer", "error", err)
				}
			}()
		}
	}

	gateways := map[domain.GatewayVariant]gateway.Client{
		domain.GatewayCurrent: gateway.NewCurrentClient(gateway.CurrentConfig{
			BaseURL:       cfg.Gateways.Current.BaseURL,
			APIKey:        cfg.Gateways.Current.APIKey,
			WebhookSecret: cfg.Gateways.Current.WebhookSecret,
			Timeout:       cfg.Gateways.Current.Timeout,
		}, log),
		domain.GatewayLegacy: gateway.NewLegacyClient(gateway.LegacyConfig{
			BaseURL:       cfg.Gateways.Legacy.BaseURL,
			APIKey:        cfg.Gateways.Legacy.APIKey,
			WebhookSecret: cfg.Gateways.Legacy.WebhookSecret,
			Timeout:       cfg.Gateways.Legacy.Timeout,
		}, log),
	}

	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)

	coordinator := service.NewMigrationCoordinator(customerRepo, log)
	orchestrator := service.NewOrchestrator(chargeRepo, customerRepo, productCatalog, gateways, coordinator, producer, billingMetrics, log)
	reconciler := service.NewReconciler(chargeRepo, eventRepo, gateways, orchestrator, producer, billingMetrics, log)

	router := rest.SetupRouter(log, registry, orchestrator, reconciler, coordinator)

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		log.Infow("Billing service started", "port", cfg.App.Port, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Infow("Server stopped gracefully")
}
