package main

import (
	"CustodyLedger/internal/config"
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/ingestion"
	"CustodyLedger/internal/notify"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/persistence"
	"CustodyLedger/internal/pricing"
	"CustodyLedger/internal/query"
	"CustodyLedger/internal/server"
	"CustodyLedger/internal/store"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("custodyledger", observability.ParseLogLevel(cfg.LogLevel))
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("custodyledger stopped")
	}
	logger.Info().Msg("custodyledger shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("store", cfg.StoreDriver).Str("audit_sink", cfg.AuditSink).Msg("custodyledger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	var (
		st       store.Store
		pgStore  *persistence.PostgresStore
		outboxOK bool
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := persistence.OpenDB(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		if cfg.AutoMigrate {
			if _, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger).Up(ctx); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		pgStore = persistence.NewPostgresStore(db, logger.With().Str("component", "postgres").Logger())
		st = pgStore
		outboxOK = true
	default:
		logger.Warn().Msg("using the in-memory store; state is lost on exit")
		st = store.NewMemoryStore()
	}
	healthChecker.AddCheck("store", st.Ping)

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.AuditSink == config.AuditSinkNATS || cfg.InboundReports {
		var (
			nc  *nats.Conn
			err error
		)
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")

		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if cfg.AuditSink == config.AuditSinkNATS {
			if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
				return fmt.Errorf("ensure outbound stream: %w", err)
			}
		}
	}

	// --- Redis: notifications and prices ---
	var (
		sinks  []notify.Sink
		prices pricing.Feed = pricing.DefaultStaticFeed()
	)
	activity := notify.NewActivityFeed(cfg.ActivityPerAccount)
	sinks = append(sinks, activity)
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		healthChecker.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		sinks = append(sinks, notify.NewRedisNotifier(rdb, cfg.NotifyChannel))
		prices = pricing.Chain{pricing.NewRedisFeed(rdb, cfg.PriceKeyPrefix), pricing.DefaultStaticFeed()}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis notifications and price feed enabled")
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, metrics, logger, sinks...)

	// --- Engine and read side ---
	engine := core.NewEngine(st, cfg.EngineConfig(),
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithNotifier(dispatcher),
	)
	queries := query.NewService(st, prices, activity, metrics, logger)

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:       server.NewLedgerService(engine, queries),
		HealthChecker: healthChecker,
		Gatherer:      registry,
		Logger:        logger,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Notification dispatcher
	go func() {
		errChan <- dispatcher.Run(ctx)
	}()

	// 2. Outbox relay
	if outboxOK && cfg.AuditSink != config.AuditSinkNone {
		var publisher persistence.Publisher
		switch cfg.AuditSink {
		case config.AuditSinkKafka:
			kp := ingestion.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer kp.Close()
			publisher = kp
		default:
			publisher = ingestion.NewNATSPublisher(js)
		}
		relay := persistence.NewOutboxRelay(st, publisher, cfg.OutboxBatchSize, cfg.OutboxPollInterval, metrics, logger)
		go func() {
			errChan <- relay.Run(ctx)
		}()
	}

	// 3. Inbound reports: NATS -> processor -> engine
	var subscriber *ingestion.NATSSubscriber
	if cfg.InboundReports {
		dedup := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, st, metrics)
		if pgStore != nil {
			keys, err := pgStore.RecentProcessedKeys(ctx, cfg.IdempotencyLRUCapacity)
			if err != nil {
				logger.Warn().Err(err).Msg("could not warm dedup cache")
			} else {
				dedup.Warm(keys)
				logger.Info().Int("keys", len(keys)).Msg("dedup cache warmed")
			}
		}

		rawChan := make(chan ingestion.RawEvent, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		processor := ingestion.NewProcessor(engine, dedup, metrics, logger)
		go func() {
			errChan <- processor.Run(ctx, rawChan)
		}()
	}

	// 4. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 5. HTTP/JSON gateway (proxies to gRPC)
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 6. Prometheus metrics server
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("custodyledger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	// Give servers and the dispatcher time to drain.
	time.Sleep(500 * time.Millisecond)
	return runErr
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
