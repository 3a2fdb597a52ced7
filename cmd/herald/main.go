package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/herald/pkg/config"
	"github.com/platinummonkey/herald/pkg/httputil"
	"github.com/platinummonkey/herald/pkg/observability"
	"github.com/platinummonkey/herald/pkg/storage"
	"github.com/platinummonkey/herald/pkg/storage/redisqueue"
	"github.com/platinummonkey/herald/pkg/storage/sqlstore"
	"github.com/platinummonkey/herald/pkg/webhooks"
)

const maxRequestBytes = 1 << 20

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigFile), "Path to a YAML config file (overridden by HERALD_* env vars)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "herald: %v\n", err)
		os.Exit(1)
	}
}

// backends holds the optional durable collaborators so they can be closed last
type backends struct {
	db    *sql.DB
	redis *redis.Client
	store webhooks.EndpointStore
	queue webhooks.Queue
}

func run(configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"store": cfg.Storage.StoreType,
		"queue": cfg.Storage.QueueType,
		"port":  cfg.Server.Port,
	}).Info("Starting Herald webhook delivery service")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		metrics = metrics.WithOTel(otelMetrics)
	}

	b, err := openBackends(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return err
	}

	svc := webhooks.NewService(webhooks.Options{
		Store:   b.store,
		Queue:   b.queue,
		Logger:  logger,
		Metrics: metrics,
		Processor: webhooks.ProcessorConfig{
			TickInterval:     cfg.Delivery.TickInterval,
			BatchSize:        cfg.Delivery.BatchSize,
			DeliveryTimeout:  cfg.Delivery.Timeout,
			DisableThreshold: cfg.Delivery.DisableThreshold,
			Retry: webhooks.RetryConfig{
				MaxAttempts:       cfg.Delivery.MaxAttempts,
				InitialDelay:      cfg.Delivery.InitialBackoff,
				MaxDelay:          cfg.Delivery.MaxBackoff,
				BackoffMultiplier: cfg.Delivery.BackoffMultiplier,
			},
		},
		ResultLogSize:    cfg.Delivery.ResultLogSize,
		ResultLogTTL:     cfg.Delivery.ResultLogTTL,
		KeepQueueOnClose: cfg.Delivery.KeepQueueOnClose,
	})
	svc.Start(ctx)

	// API server
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	webhooks.NewHandlers(svc).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server (separate port for probes and scraping)
	opsRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(opsRouter, observability.NewHealthChecker(b.db, b.redis, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsRouter, registry)
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := scheduleStats(cfg.Delivery.StatsInterval, svc, b.db, metrics, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.Watch(configPath, logger, func(next *config.Config) {
			logger.SetLevel(next.Observability.Level())
			logger.WithField("log_level", next.Observability.Level().String()).Info("Configuration reloaded")
		})
		if err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("ops-server", opsServer.Shutdown)
	shutdown.RegisterShutdownFunc("stats-scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("webhook-service", svc.Close)
	if watcher != nil {
		shutdown.RegisterShutdownFunc("config-watcher", func(context.Context) error {
			return watcher.Close()
		})
	}
	shutdown.RegisterShutdownFunc("backends", func(context.Context) error {
		return b.close()
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serverErr := make(chan error, 2)
	for _, srv := range []*http.Server{server, opsServer} {
		srv := srv
		go func() {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serverErr; err != nil {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return fmt.Errorf("shutdown completed with errors: %w", err)
	}
	logger.Info("Herald stopped")
	return nil
}

// openBackends builds the endpoint store and the delivery queue named by cfg
func openBackends(ctx context.Context, cfg storage.Config, logger *observability.Logger, metrics *observability.Metrics) (*backends, error) {
	b := &backends{}

	switch cfg.StoreType {
	case storage.StorePostgres, storage.StoreSQLite:
		db, dialect, err := sqlstore.OpenFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
			db.Close()
			return nil, err
		}
		b.db = db
		b.store = sqlstore.New(db, dialect, metrics)
		logger.WithField("dialect", string(dialect)).Info("Using SQL endpoint store")
	default:
		b.store = webhooks.NewMemoryStore(nil)
	}

	switch cfg.QueueType {
	case storage.QueueRedis:
		client, err := redisqueue.NewClient(ctx, cfg)
		if err != nil {
			_ = b.close()
			return nil, err
		}
		b.redis = client
		b.queue = redisqueue.New(client, cfg.RedisQueueKey, logger, metrics)
		logger.WithField("key", cfg.RedisQueueKey).Info("Using Redis delivery queue")
	default:
		b.queue = webhooks.NewMemoryQueue()
	}

	return b, nil
}

func (b *backends) close() error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}

// scheduleStats refreshes registry gauges and pool statistics on a cron schedule
func scheduleStats(spec string, svc *webhooks.Service, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(logger, "stats refresh")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stats, err := svc.GetStats(ctx)
		if err != nil {
			logger.WithError(err).Warn("Failed to refresh webhook stats")
			return
		}
		if db != nil {
			metrics.RecordDBStats(db.Stats())
		}
		logger.WithFields(map[string]interface{}{
			"total_webhooks":    stats.TotalWebhooks,
			"active_webhooks":   stats.ActiveWebhooks,
			"queued_deliveries": stats.QueuedDeliveries,
			"pending_retries":   stats.PendingRetries,
		}).Debug("Webhook stats refreshed")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", spec, err)
	}
	return c, nil
}
