// Command tracker-server starts the live merchant tracking hub.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wanderers-live/merchant-tracker/internal/config"
	"github.com/wanderers-live/merchant-tracker/internal/hub"
	"github.com/wanderers-live/merchant-tracker/internal/migrate"
	"github.com/wanderers-live/merchant-tracker/internal/refdata"
	"github.com/wanderers-live/merchant-tracker/internal/repository/postgres"
	wsserver "github.com/wanderers-live/merchant-tracker/internal/server/ws"
	"github.com/wanderers-live/merchant-tracker/internal/service"
	"github.com/wanderers-live/merchant-tracker/internal/tally"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP/WebSocket server.
func main() {
	addr := flag.String("addr", "", "listen address (overrides TRACKER_ADDR)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides TRACKER_DSN)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	if cfg.JWTKey == "" {
		logger.Fatal("missing jwt signing key (TRACKER_JWT_KEY)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	groupRepo := postgres.NewGroupRepo(db)
	voteRepo := postgres.NewVoteRepo(db)
	banRepo := postgres.NewBanRepo(db)
	pushRepo := postgres.NewPushRepo(db)
	tallyRepo := postgres.NewTallyRepo(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	ref := refdata.New(
		refdata.DefaultServers,
		refdata.DefaultMerchants,
		refdata.DefaultZoneAliases,
		refdata.Schedule{Interval: cfg.SpawnInterval, Duration: cfg.SpawnDuration},
	)
	broadcast := hub.New(logger, registry)

	policy := service.AutobanPolicy{
		LegendaryRapportDownvoteThreshold: cfg.LegendaryRapportDownvoteThreshold,
		RareCardDownvoteThreshold:         cfg.RareCardDownvoteThreshold,
		FirstOffenseDuration:              cfg.FirstOffenseDuration,
		RepeatOffenseDuration:             cfg.RepeatOffenseDuration,
		OnReport:                          cfg.AutobanOnReport,
	}
	svc := service.NewTrackerService(
		groupRepo, voteRepo, banRepo, pushRepo, tallyRepo,
		ref, broadcast, policy, cfg.MinClientVersion, logger,
	)

	worker := tally.New(tallyRepo, svc, cfg.TallyInterval, cfg.SweepInterval, logger, registry)
	worker.Start(ctx)
	defer worker.Stop()

	app := wsserver.New(svc, broadcast, ref, []byte(cfg.JWTKey), logger)
	mux := http.NewServeMux()
	mux.Handle("/", app.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
