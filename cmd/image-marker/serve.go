package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	imagemarker "github.com/menta2k/image-marker"
	"github.com/menta2k/image-marker/internal/backend"
	"github.com/menta2k/image-marker/internal/config"
	"github.com/menta2k/image-marker/internal/logger"
	"github.com/menta2k/image-marker/pkg/detection"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (defaults to ./config.yaml when present)")
	port := fs.String("port", "", "listen address, overrides server.port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log, err := logger.New(cfg.Server.Mode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync(log)

	log.Info("starting image marker backend",
		zap.String("version", imagemarker.Version),
		zap.String("store", cfg.Backend.Store),
		zap.Duration("wait_timeout", cfg.Backend.WaitTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := backend.Options{WaitTimeout: cfg.Backend.WaitTimeout, Logger: log}
	if cfg.Vision.Enabled {
		vc, err := newVisionClient(cfg.Vision)
		if err != nil {
			return err
		}
		d, err := detection.NewDescriber(vc, cfg.Vision.Model, cfg.Vision.Prompt)
		if err != nil {
			return err
		}
		opts.Describer = d
		log.Info("vision describer enabled", zap.String("backend", cfg.Vision.Backend), zap.String("model", cfg.Vision.Model))
	}

	proc, err := cfg.Processor()
	if err != nil {
		return err
	}
	registry := backend.NewRegistry(store, opts)
	router := backend.NewRouter(backend.NewHandler(registry, proc, log), cfg.Server.Mode)

	srv := &http.Server{Addr: cfg.Server.Port, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (backend.Store, error) {
	if cfg.Backend.Store != "redis" {
		return backend.NewMemoryStore(), nil
	}
	rs := backend.NewRedisStore(&cfg.Redis)
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
	return rs, nil
}
