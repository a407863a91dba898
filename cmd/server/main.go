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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/directory"
	"github.com/Tyrowin/relaychat/internal/logging"
	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/server"
	"github.com/Tyrowin/relaychat/internal/visibility"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: configs/config.<env>.yaml if present)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, cfg.Directory.ConnectTimeout)
	store, err := directory.Open(openCtx, directory.Options{
		Driver:         cfg.Directory.Driver,
		DSN:            cfg.Directory.DSN,
		ConnectTimeout: cfg.Directory.ConnectTimeout,
		Logger:         logger.Named("directory"),
	})
	cancelOpen()
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing directory", zap.Error(err))
		}
	}()

	if cfg.Directory.SeedFile != "" {
		users, err := directory.LoadSeedFile(cfg.Directory.SeedFile)
		if err != nil {
			return err
		}
		if err := directory.Seed(ctx, store, users); err != nil {
			return err
		}
		logger.Info("seeded directory", zap.Int("users", len(users)), zap.String("file", cfg.Directory.SeedFile))
	}

	policy, err := visibility.Load(cfg.Visibility.File)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(server.ConfigFromApp(cfg), server.Deps{
		Directory:  store,
		Visibility: policy,
		Metrics:    metrics.New(registry),
		Logger:     logger,
	})
	httpServer := server.CreateServer(srv.Config().Port, srv.Routes())

	logger.Info("starting relaychat",
		zap.String("env", env),
		zap.String("addr", httpServer.Addr),
		zap.String("directory", cfg.Directory.Driver),
		zap.Strings("restricted_users", policy.Restricted()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := srv.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("relaychat stopped cleanly")
	return nil
}
