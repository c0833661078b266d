// Package app wires the application components together for the serve and
// tick entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pelicanmail/pelican/internal/config"
	"github.com/pelicanmail/pelican/internal/dispatch"
	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/ledger"
	"github.com/pelicanmail/pelican/internal/lock"
	"github.com/pelicanmail/pelican/internal/mailer"
	"github.com/pelicanmail/pelican/internal/metrics"
	"github.com/pelicanmail/pelican/internal/quota"
	"github.com/pelicanmail/pelican/internal/server"
	"github.com/pelicanmail/pelican/internal/store"
	"github.com/pelicanmail/pelican/internal/worker"
)

// App is the assembled application
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Server     *server.Server
	Worker     *worker.Worker

	quotaDB    *bolt.DB
	quotaGuard *quota.Guard
}

// New assembles the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	ds := docstore.NewClient(cfg.Store.BaseURL, cfg.Store.Bucket, cfg.Store.ReadKey, cfg.Store.WriteKey)
	sender := mailer.NewClient(cfg.Mailer.BaseURL, cfg.Mailer.APIKey)

	campaigns := store.NewCampaigns(ds)
	contacts := store.NewContacts(ds)
	sendLedger := ledger.New(ds, logger, ledger.WithInsertDelay(cfg.Sending.ReserveDelay))
	locks := lock.NewManager(ds, cfg.Sending.LockTTL, logger)
	m := metrics.New()

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	opts := []dispatch.Option{dispatch.WithMetrics(m)}
	if cfg.Sending.Quota.Limits.Enabled() {
		db, err := bolt.Open(cfg.Sending.Quota.Path, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open quota database: %w", err)
		}
		guard, err := quota.NewGuard(db, cfg.Sending.Quota.Limits)
		if err != nil {
			db.Close()
			return nil, err
		}
		app.quotaDB = db
		app.quotaGuard = guard
		opts = append(opts, dispatch.WithQuota(guard))
	}

	app.Dispatcher = dispatch.New(
		campaigns,
		contacts,
		sendLedger,
		locks,
		sender,
		dispatch.Config{
			EmailsPerSecond: cfg.Sending.EmailsPerSecond,
			BatchSize:       cfg.Sending.BatchSize,
			MaxBatches:      cfg.Sending.MaxBatches,
			BatchPause:      cfg.Sending.BatchPause,
			PublicBaseURL:   cfg.Server.PublicBaseURL,
		},
		logger,
		opts...,
	)

	app.Server = server.New(app.Dispatcher, m, cfg.Server.ListenAddr, logger)
	app.Worker = worker.New(app.Dispatcher, cfg.Sending.PollInterval, logger)

	return app, nil
}

// Run starts the worker and HTTP server and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Worker.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.shutdown(context.Background())
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.shutdown(shutdownCtx)
		return nil
	}
}

func (a *App) shutdown(ctx context.Context) {
	a.Worker.Stop()
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown error", "error", err)
	}
	a.Close()
}

// Close releases resources held outside Run (quota persistence).
func (a *App) Close() {
	if a.quotaGuard != nil {
		if err := a.quotaGuard.Stop(); err != nil {
			a.Logger.Error("failed to persist quota counters", "error", err)
		}
		a.quotaGuard = nil
	}
	if a.quotaDB != nil {
		a.quotaDB.Close()
		a.quotaDB = nil
	}
}

// SetupLogger builds the application logger from logging config.
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: ParseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel maps a config string to a slog level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
