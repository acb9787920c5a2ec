package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/jonboulle/clockwork"

	sqliteadapter "github.com/ericfisherdev/keypanel/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/keypanel/internal/adapter/driven/upstream"
	httphandler "github.com/ericfisherdev/keypanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/keypanel/internal/application"
	"github.com/ericfisherdev/keypanel/internal/config"
)

func serve(parent context.Context, configPath string) error {
	// 1. Load configuration and install the logger.
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := application.ValidateReactivationConfig(cfg.ReactivationDefaults()); err != nil {
		return fmt.Errorf("reactivation defaults: %w", err)
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"upstream", cfg.Upstream.BaseURL,
		"probe_concurrency", cfg.Probe.Concurrency,
		"probe_timeout", cfg.Probe.Timeout,
		"seed_keys", len(cfg.SeedKeys),
	)
	if !cfg.HasAdminToken() {
		slog.Warn("no admin token configured, admin API will answer 503")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations.
	db, keyStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	settingsStore := sqliteadapter.NewSettingsRepo(db)

	// 4. Seed configured keys.
	keySvc := application.NewKeyService(keyStore)
	added, err := keySvc.Seed(ctx, cfg.SeedKeys)
	if err != nil {
		return err
	}
	if len(cfg.SeedKeys) > 0 {
		slog.Info("seed keys applied", "configured", len(cfg.SeedKeys), "added", added)
	}

	// 5. Create the upstream client.
	client := upstream.NewClient(cfg.Upstream.BaseURL)

	// 6. Create services.
	testSvc := application.NewTestService(keyStore, client, cfg.Probe.Concurrency, cfg.Probe.Timeout)
	batchSvc := application.NewBatchService(keySvc)
	modelSvc := application.NewModelService(keySvc, client)
	scheduler := application.NewReactivationScheduler(keySvc, testSvc, cfg.Reactivation.Model, clockwork.NewRealClock())
	settingsSvc := application.NewSettingsService(settingsStore, scheduler, cfg.ReactivationDefaults())

	// 7. Load saved settings and start the scheduler.
	reactivation, err := settingsSvc.Load(ctx)
	if err != nil {
		return err
	}
	scheduler.Start(ctx, reactivation)
	defer scheduler.Stop()

	// 8. Create HTTP handler and router.
	logger := slog.Default()
	apiHandler := httphandler.NewHandler(keySvc, batchSvc, testSvc, settingsSvc, scheduler, modelSvc, logger)
	auth := httphandler.NewAuthenticator(cfg.AdminToken, logger)
	router := httphandler.NewRouter(apiHandler, auth, cfg.CORSOrigins, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 9. Log startup complete.
	slog.Info("keypanel started",
		"listen_addr", cfg.ListenAddr,
		"reactivation_enabled", reactivation.Enabled,
		"reactivation_mode", reactivation.Mode,
		"probe_model", cfg.Reactivation.Model,
	)

	// 10. Wait for shutdown signal or a server failure.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// 11. Graceful shutdown with 10s timeout. Open test streams are cancelled
	// through the base context.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openStore opens the database, applies migrations and creates the key repo.
func openStore(ctx context.Context, cfg *config.Config) (*sqliteadapter.DB, *sqliteadapter.KeyRepo, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database opened", "path", db.Path())

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		closeDB(db)
		return nil, nil, err
	}
	slog.Info("migrations complete")

	keyStore, err := sqliteadapter.NewKeyRepo(db, cfg.SecretKey)
	if err != nil {
		closeDB(db)
		return nil, nil, err
	}
	if !keyStore.Sealed() {
		slog.Warn("no secret key configured, key values are stored in plaintext")
	}

	return db, keyStore, nil
}

func closeDB(db *sqliteadapter.DB) {
	if err := db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
