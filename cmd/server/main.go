package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	web "licensure/internal/adapters/http"
	"licensure/internal/adapters/http/binder"
	"licensure/internal/adapters/http/middleware"
	"licensure/internal/adapters/http/perf"
	"licensure/internal/adapters/storage"
	"licensure/internal/adapters/storage/slot"
	"licensure/internal/application/filters"
	"licensure/internal/application/orchestrators"
	"licensure/internal/config"
	"licensure/internal/domain/flow"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger for cfg.
// Production logs are JSON; development logs are text.
func setupLogging(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Production() {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openDB opens SQLite with WAL mode and busy timeout, then migrates it.
func openDB(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := storage.MigrateDB(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// buildResolver compiles the default flow table.
func buildResolver() (*flow.Resolver, error) {
	table := flow.DefaultTable()
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("flow table: %w", err)
	}
	return flow.NewResolver(table, flow.DefaultPageKeys()), nil
}

// serve wires every component for cfg and blocks until ctx is cancelled
// or the listener fails.
func serve(ctx context.Context, cfg config.Config) error {
	collector := perf.NewCollector(perf.DefaultRingSize)
	metrics := web.NewMetrics()

	var (
		slots         slot.Store
		visitorMaxAge int
	)
	stopCh := make(chan struct{})
	defer close(stopCh)

	switch cfg.StorageScope {
	case config.ScopeSession:
		slots = slot.NewMemoryStore()
	default:
		db, err := openDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		durable := slot.NewSQLiteStore(storage.NewTimedDB(db, collector))
		slots = durable
		visitorMaxAge = middleware.DurableVisitorMaxAge

		orchestrators.StartPurgeWorker(orchestrators.PurgeSlotsDeps{
			Slots: durable,
			TTL:   cfg.SlotTTL,
		}, cfg.PurgeInterval, stopCh)
	}

	resolver, err := buildResolver()
	if err != nil {
		return err
	}
	hub := filters.NewHub()
	deps := web.Deps{
		Filters: filters.NewService(slots, filters.Options{
			Slot:       cfg.Slot,
			LegacySlot: cfg.LegacySlot,
			Hub:        hub,
			OnWrite:    metrics.RecordWrite,
		}),
		Hub:      hub,
		Resolver: resolver,
		Binder: binder.New(resolver, binder.Options{
			Convention: cfg.BackClear,
			OnActivate: metrics.ActivationObserver(collector),
		}),
		Collector: collector,
		Metrics:   metrics,
	}

	csrfKey, err := web.LoadCSRFKey(cfg.CSRFKey, cfg.Production())
	if err != nil {
		return err
	}
	handler, err := web.NewMux(web.Config{
		StaticDir:     cfg.StaticDir,
		CSRFKey:       csrfKey,
		Production:    cfg.Production(),
		VisitorMaxAge: visitorMaxAge,
	}, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting",
			"version", version,
			"addr", cfg.Addr,
			"env", cfg.Env,
			"scope", cfg.StorageScope,
			"back_clear", cfg.BackClear,
			"slot", cfg.Slot,
			"schema", storage.LatestSchemaVersion(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Event streams never finish on their own, so shutdown is bounded.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server_shutdown_forced", "error", err.Error())
		return srv.Close()
	}
	slog.Info("server_stopped")
	return nil
}

// notifyContext is cancelled on SIGINT or SIGTERM.
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
