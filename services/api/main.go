package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldops/dispatch-gateway/services/api/config"
	"github.com/fieldops/dispatch-gateway/services/api/db"
	"github.com/fieldops/dispatch-gateway/services/api/db/sqlite"
	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
	httpserver "github.com/fieldops/dispatch-gateway/services/api/http"
	"github.com/fieldops/dispatch-gateway/services/api/logging"
	"github.com/fieldops/dispatch-gateway/services/api/mqttbridge"
)

// backend is what main needs from either store implementation.
type backend interface {
	dispatch.Store
	httpserver.Backend
	InitSchema(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("db connection error")
	}
	defer closeStore()

	if cfg.AutoMigrate {
		if err := store.InitSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("schema migration failed")
		}
		logger.Info().Msg("schema up to date")
	}

	svc := dispatch.NewService(store, dispatch.ServiceConfig{
		StorageRoot: cfg.StorageRoot,
		ConfigTTL:   cfg.ConfigTTL,
	}, logger)

	if cfg.MQTT.Enabled() {
		bridge := mqttbridge.New(cfg.MQTT, svc, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("mqtt bridge stopped")
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				svc.ReloadConfig()
				logger.Info().Msg("dispatch config reload requested")
			}
		}
	}()

	srv := httpserver.New(cfg, svc, store, logger)
	logger.Info().Str("addr", cfg.ListenAddr()).Str("driver", cfg.DBDriver).Msg("dispatch API listening")

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
		closeStore()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (backend, func(), error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}
