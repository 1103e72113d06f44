package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qbwc-sync/internal/api"
	"qbwc-sync/internal/archive"
	"qbwc-sync/internal/catalog"
	"qbwc-sync/internal/config"
	"qbwc-sync/internal/events"
	"qbwc-sync/internal/logging"
	"qbwc-sync/internal/queue"
	"qbwc-sync/internal/ratelimit"
	"qbwc-sync/internal/reconcile"
	"qbwc-sync/internal/session"
	"qbwc-sync/internal/store"
	"qbwc-sync/internal/translate"
)

func main() {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := config.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("connector stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	client := queue.NewRedisClient(cfg)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	var (
		auditor store.Auditor = store.NopAuditor{}
		results api.ResultsReader
	)
	if cfg.PostgresDSN != "" {
		audit, err := store.NewAuditLog(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer audit.Close()
		if err := audit.RunMigrations(ctx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		auditor, results = audit, audit
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	arc, err := archive.New(ctx, cfg)
	if err != nil {
		return err
	}

	cat := catalog.Default()
	entities := store.NewRedisStore(client, store.BreakerSettings{
		Failures: cfg.BreakerFailures,
		Timeout:  cfg.BreakerTimeout,
	}, logger)
	engine := reconcile.New(entities,
		reconcile.WithWorkers(cfg.ReconcileWorkers),
		reconcile.WithTimeout(cfg.ReconcileTimeout),
		reconcile.WithPublisher(publisher),
		reconcile.WithLogger(logger),
	)
	ctrl := session.NewController(session.Deps{
		Queue:       queue.NewSessionQueue(client, cfg.SessionTTL),
		Catalog:     cat,
		Translator:  translate.NewRegistry(logger),
		Reconciler:  engine,
		Credentials: session.Credentials{User: cfg.ConnectorUser, Password: cfg.ConnectorPassword},
		Throttle:    ratelimit.NewAuthThrottle(client, cfg.AuthRateCapacity, cfg.AuthRateRefill),
		Archive:     arc,
		Auditor:     auditor,
		Publisher:   publisher,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(ctrl, cat, results, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("connector listening", zap.String("addr", httpServer.Addr), zap.Int("entity_types", cat.Len()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
