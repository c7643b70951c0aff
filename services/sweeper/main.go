package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldops/dispatch-gateway/services/api/db"
	"github.com/fieldops/dispatch-gateway/services/api/db/sqlite"
	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
	"github.com/fieldops/dispatch-gateway/services/api/logging"
	"github.com/fieldops/dispatch-gateway/services/sweeper/internal/config"
	"github.com/fieldops/dispatch-gateway/services/sweeper/internal/sweep"
)

// audioIndex is the read side of the dispatch store the sweeper needs.
type audioIndex interface {
	dispatch.ConfigSource
	AudioFilePaths(ctx context.Context) ([]string, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("sweeper failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	index, closeIndex, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex()

	values, err := index.DispatchConfigValues(ctx)
	if err != nil {
		return fmt.Errorf("load dispatch config: %w", err)
	}
	dcfg, err := dispatch.ParseConfig(values)
	if err != nil {
		return err
	}

	// List files before reading rows so a row committed in between still
	// protects its file.
	files, err := sweep.ListFiles(cfg.StorageRoot, dcfg.AudioStoragePath)
	if err != nil {
		return fmt.Errorf("list audio files: %w", err)
	}
	referenced, err := index.AudioFilePaths(ctx)
	if err != nil {
		return fmt.Errorf("load audio rows: %w", err)
	}

	orphans := sweep.FindOrphans(files, referenced, cfg.MinAge, time.Now())
	logger.Info().
		Str("dir", dcfg.AudioStoragePath).
		Int("files", len(files)).
		Int("rows", len(referenced)).
		Int("orphans", len(orphans)).
		Bool("dry_run", cfg.DryRun).
		Msg("audio directory scanned")

	if len(orphans) == 0 {
		return nil
	}

	var removed int
	for _, f := range orphans {
		if cfg.DryRun {
			logger.Info().
				Str("file_path", f.RelPath).
				Int64("size", f.Size).
				Time("modified", f.ModTime).
				Msg("dry-run: would remove orphan audio file")
			continue
		}
		if err := sweep.Remove(cfg.StorageRoot, f); err != nil {
			logger.Error().Err(err).Str("file_path", f.RelPath).Msg("remove orphan failed")
			continue
		}
		removed++
		logger.Info().Str("file_path", f.RelPath).Msg("removed orphan audio file")
	}

	if !cfg.DryRun {
		logger.Info().Int("removed", removed).Msg("sweep complete")
	}
	return nil
}

func openIndex(ctx context.Context, cfg config.Config) (audioIndex, func(), error) {
	if cfg.DBDriver == "sqlite" {
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
