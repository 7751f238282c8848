package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/anomaly-detection/internal/config"
	"github.com/DoyleJ11/anomaly-detection/internal/httpapi"
	"github.com/DoyleJ11/anomaly-detection/internal/hub"
	"github.com/DoyleJ11/anomaly-detection/internal/store"
	"github.com/DoyleJ11/anomaly-detection/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	for _, w := range cfg.MarkerWarnings() {
		logger.Warn("progress markers disabled", zap.Error(w))
	}

	deps := httpapi.Deps{
		WS: ws.Settings{
			Stages: cfg.Stages,
			Policy: cfg.Policy(),
			Seed:   cfg.RandomSeed,
		},
		Log: logger,
	}

	hubOpts := []hub.Option{hub.WithLogger(logger)}
	if cfg.DatabaseURL != "" {
		conn, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := store.Migrate(conn); err != nil {
			return err
		}
		logger.Info("database migration complete")
		st := store.New(conn)
		hubOpts = append(hubOpts, hub.WithRecorder(st), hub.WithBanSource(st))
		deps.History = st
		deps.Codes = st
	} else {
		logger.Info("DATABASE_URL not set, persistence disabled")
	}

	// The hub outlives ctx so in-flight requests can still reach it while the
	// server drains.
	h := hub.NewHub(context.WithoutCancel(ctx), hubOpts...)
	deps.Hub = h

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Int("stages", len(cfg.Stages)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		h.Shutdown()
		return err
	})
	return g.Wait()
}
