package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultSQLitePath = "data/dispatch.db"
	defaultMinAge     = time.Hour
	defaultTimeout    = 30 * time.Second
)

// Config holds runtime configuration for the orphan audio sweeper.
type Config struct {
	DBDriver       string
	DatabaseURL    string
	SQLitePath     string
	StorageRoot    string
	MinAge         time.Duration
	RequestTimeout time.Duration
	DryRun         bool
	LogLevel       string
	LogFormat      string
}

// Load reads configuration from environment variables (optionally .env).
// DRY_RUN defaults to true; only an explicit false value enables removal.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		DBDriver:       "postgres",
		SQLitePath:     defaultSQLitePath,
		StorageRoot:    ".",
		MinAge:         defaultMinAge,
		RequestTimeout: defaultTimeout,
		DryRun:         true,
		LogLevel:       "info",
		LogFormat:      "json",
	}

	if v := strings.TrimSpace(os.Getenv("DB_DRIVER")); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	switch cfg.DBDriver {
	case "postgres":
		cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case "sqlite":
		if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
			cfg.SQLitePath = v
		}
	default:
		return cfg, fmt.Errorf("invalid DB_DRIVER: %s", cfg.DBDriver)
	}

	if v := strings.TrimSpace(os.Getenv("DISPATCH_STORAGE_ROOT")); v != "" {
		cfg.StorageRoot = v
	}

	if v := strings.TrimSpace(os.Getenv("SWEEPER_MIN_AGE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return cfg, fmt.Errorf("invalid SWEEPER_MIN_AGE: %s", v)
		}
		cfg.MinAge = d
	}

	if v := strings.TrimSpace(os.Getenv("SWEEPER_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid SWEEPER_REQUEST_TIMEOUT: %s", v)
		}
		cfg.RequestTimeout = d
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	if dryRun == "0" || strings.EqualFold(dryRun, "false") {
		cfg.DryRun = false
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}
