package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds environment-driven settings for the dispatch gateway.
type Config struct {
	DBDriver       string `validate:"oneof=postgres sqlite"`
	DatabaseURL    string `validate:"required_if=DBDriver postgres"`
	SQLitePath     string `validate:"required_if=DBDriver sqlite"`
	AutoMigrate    bool
	Port           int           `validate:"min=1,max=65535"`
	StorageRoot    string        `validate:"required"`
	ConfigTTL      time.Duration `validate:"min=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	MaxBodyBytes   int64         `validate:"gt=0"`
	RateLimit      float64       `validate:"min=0"`
	RateBurst      int           `validate:"min=1"`
	LogLevel       string        `validate:"oneof=trace debug info warn warning error disabled"`
	LogFormat      string        `validate:"oneof=json console"`
	MQTT           MQTTConfig
}

// MQTTConfig configures the optional MQTT ingress bridge.
type MQTTConfig struct {
	BrokerURL   string `validate:"omitempty,url"`
	ClientID    string `validate:"required_with=BrokerURL"`
	TopicPrefix string `validate:"required_with=BrokerURL"`
	Username    string
	Password    string
	APIKey      string
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		DBDriver:       DriverPostgres,
		SQLitePath:     "data/dispatch.db",
		Port:           8080,
		StorageRoot:    ".",
		ConfigTTL:      5 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   1 << 20,
		RateBurst:      20,
		LogLevel:       "info",
		LogFormat:      "json",
		MQTT: MQTTConfig{
			ClientID:    "dispatch-gateway",
			TopicPrefix: "dispatch",
		},
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}

	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid DB_AUTO_MIGRATE: %s", v)
		}
		cfg.AutoMigrate = b
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if v := os.Getenv("DISPATCH_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}

	var err error
	if cfg.ConfigTTL, err = durationEnv("DISPATCH_CONFIG_TTL", cfg.ConfigTTL); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = durationEnv("API_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}

	if v := os.Getenv("API_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid API_MAX_BODY_BYTES: %s", v)
		}
		cfg.MaxBodyBytes = n
	}

	if v := os.Getenv("API_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return cfg, fmt.Errorf("invalid API_RATE_LIMIT: %s", v)
		}
		cfg.RateLimit = f
	}
	if v := os.Getenv("API_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid API_RATE_BURST: %s", v)
		}
		cfg.RateBurst = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	cfg.MQTT.BrokerURL = os.Getenv("MQTT_BROKER_URL")
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = strings.Trim(v, "/")
	}
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.APIKey = os.Getenv("MQTT_API_KEY")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags and reports the first failing variable.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name, ok := envNames[fe.StructNamespace()]
	if !ok {
		name = fe.StructNamespace()
	}
	if fe.Tag() == "required_if" || fe.Tag() == "required_with" || fe.Tag() == "required" {
		return fmt.Errorf("%s is required", name)
	}
	return fmt.Errorf("invalid %s: %v", name, fe.Value())
}

var envNames = map[string]string{
	"Config.DBDriver":         "DB_DRIVER",
	"Config.DatabaseURL":      "DATABASE_URL",
	"Config.SQLitePath":       "SQLITE_PATH",
	"Config.Port":             "PORT",
	"Config.StorageRoot":      "DISPATCH_STORAGE_ROOT",
	"Config.ConfigTTL":        "DISPATCH_CONFIG_TTL",
	"Config.RequestTimeout":   "API_REQUEST_TIMEOUT",
	"Config.MaxBodyBytes":     "API_MAX_BODY_BYTES",
	"Config.RateLimit":        "API_RATE_LIMIT",
	"Config.RateBurst":        "API_RATE_BURST",
	"Config.LogLevel":         "LOG_LEVEL",
	"Config.LogFormat":        "LOG_FORMAT",
	"Config.MQTT.BrokerURL":   "MQTT_BROKER_URL",
	"Config.MQTT.ClientID":    "MQTT_CLIENT_ID",
	"Config.MQTT.TopicPrefix": "MQTT_TOPIC_PREFIX",
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def, fmt.Errorf("invalid %s: %s", key, v)
	}
	return d, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
