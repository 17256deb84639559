package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	engineconfig "bountyescrow/config"
	"bountyescrow/core/events"
	"bountyescrow/core/state"
	"bountyescrow/native/bank"
	"bountyescrow/native/bounty"
	"bountyescrow/observability"
	"bountyescrow/observability/logging"
	telemetry "bountyescrow/observability/otel"
	"bountyescrow/services/escrowd"
	"bountyescrow/storage"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the escrow HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := escrowd.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}

// loadEngineConfig reads the TOML engine file. DataDir and Backend set in the
// service YAML take precedence.
func loadEngineConfig(cfg escrowd.Config) (*engineconfig.Config, error) {
	engineCfg, err := engineconfig.Load(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
		engineCfg.DataDir = dir
	}
	if backend := strings.TrimSpace(cfg.Backend); backend != "" {
		engineCfg.Backend = strings.ToLower(backend)
	}
	return engineCfg, nil
}

func openStateDB(cfg *engineconfig.Config) (storage.Database, error) {
	switch cfg.Backend {
	case engineconfig.BackendMemory:
		return storage.NewMemDB(), nil
	case engineconfig.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "escrow.db"))
	case engineconfig.BackendLevelDB:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, err
		}
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func serve(ctx context.Context, cfg escrowd.Config) error {
	logger, logCloser := logging.Setup("escrowd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	engineCfg, err := loadEngineConfig(cfg)
	if err != nil {
		return err
	}
	db, err := openStateDB(engineCfg)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	engine := bounty.NewEngine(manager, ledger, engineCfg.VaultAddress())
	engine.SetLogger(logger)
	engine.SetObserver(observability.Escrow())
	if err := engine.SetDefaults(engineCfg.EngineDefaults()); err != nil {
		return fmt.Errorf("engine defaults: %w", err)
	}

	auditDB, err := escrowd.OpenAuditDB(cfg.Audit.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := auditDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	audit, err := escrowd.NewAuditStore(auditDB, logger)
	if err != nil {
		return err
	}
	hub := escrowd.NewHub(cfg.Stream.Backlog, cfg.Stream.Buffer)
	engine.SetEmitter(events.Multi{hub, audit, observability.Events()})

	idem, err := escrowd.NewIdempotencyStore(cfg.IdempotencyDB, cfg.IdempotencyTTL.Duration)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()

	minAmount, maxAmount, err := engineCfg.AmountPolicy.Bounds()
	if err != nil {
		return err
	}
	server, err := escrowd.NewServer(escrowd.Options{
		Engine:      engine,
		Ledger:      ledger,
		Audit:       audit,
		Hub:         hub,
		Idempotency: idem,
		Auth:        escrowd.NewAuthenticator(cfg.Auth, logger),
		RateLimiter: escrowd.NewRateLimiter(cfg.RateLimit),
		Logger:      logger,
		Bootstrap: escrowd.Bootstrap{
			ClaimWindow:    engineCfg.ClaimWindow,
			HasClaimWindow: true,
			MaxBatchSize:   engineCfg.MaxBatchSize,
			MinAmount:      minAmount,
			MaxAmount:      maxAmount,
		},
		Faucet:        cfg.Faucet,
		ExportDir:     cfg.Audit.ExportDir,
		StreamTimeout: cfg.Stream.WriteTimeout.Duration,
	})
	if err != nil {
		return err
	}

	go pruneIdempotency(ctx, idem, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			slog.String("listen", cfg.Listen),
			slog.String("backend", engineCfg.Backend),
			slog.String("data_dir", engineCfg.DataDir),
			slog.String("audit_dsn", logging.MaskDSN(cfg.Audit.DSN)),
			logging.MaskField("jwt_audience", cfg.Auth.Audience),
			slog.Bool("auth", cfg.Auth.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down escrowd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func pruneIdempotency(ctx context.Context, store *escrowd.IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune()
			if err != nil {
				logger.Warn("idempotency prune failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency records pruned", slog.Int("removed", removed))
			}
		}
	}
}
