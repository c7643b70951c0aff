package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Keys of the dispatch_raspberry_config table.
const (
	KeyAPIEnabled                = "api_enabled"
	KeyAPIKey                    = "api_key"
	KeyAudioStoragePath          = "audio_storage_path"
	KeyMaxAudioFileSize          = "max_audio_file_size"
	KeyPositionUpdateInterval    = "position_update_interval"
	KeyPositionInactiveThreshold = "position_inactive_threshold"
)

const (
	DefaultAudioStoragePath          = "uploads/dispatch/audio/"
	DefaultMaxAudioFileSize          = 10 << 20
	DefaultPositionUpdateInterval    = 60
	DefaultPositionInactiveThreshold = 1800
)

// DispatchConfig is the field-gateway configuration managed from the admin UI.
type DispatchConfig struct {
	APIEnabled                bool
	APIKey                    string
	AudioStoragePath          string
	MaxAudioFileSize          int64
	PositionUpdateInterval    int
	PositionInactiveThreshold int
}

// PublicConfig is what field devices may read back; it never carries the key.
type PublicConfig struct {
	APIEnabled                bool   `json:"api_enabled"`
	AudioStoragePath          string `json:"audio_storage_path"`
	MaxAudioFileSize          int64  `json:"max_audio_file_size"`
	PositionUpdateInterval    int    `json:"position_update_interval"`
	PositionInactiveThreshold int    `json:"position_inactive_threshold"`
}

// Public strips secrets from the configuration.
func (c DispatchConfig) Public() PublicConfig {
	return PublicConfig{
		APIEnabled:                c.APIEnabled,
		AudioStoragePath:          c.AudioStoragePath,
		MaxAudioFileSize:          c.MaxAudioFileSize,
		PositionUpdateInterval:    c.PositionUpdateInterval,
		PositionInactiveThreshold: c.PositionInactiveThreshold,
	}
}

// ParseConfig builds a DispatchConfig from stored key/value rows, applying
// defaults for absent keys. Only the literal "1" enables the API.
func ParseConfig(values map[string]string) (DispatchConfig, error) {
	cfg := DispatchConfig{
		APIEnabled:                values[KeyAPIEnabled] == "1",
		APIKey:                    values[KeyAPIKey],
		AudioStoragePath:          DefaultAudioStoragePath,
		MaxAudioFileSize:          DefaultMaxAudioFileSize,
		PositionUpdateInterval:    DefaultPositionUpdateInterval,
		PositionInactiveThreshold: DefaultPositionInactiveThreshold,
	}

	if v := strings.TrimSpace(values[KeyAudioStoragePath]); v != "" {
		cfg.AudioStoragePath = v
	}

	if v := strings.TrimSpace(values[KeyMaxAudioFileSize]); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid %s: %q", KeyMaxAudioFileSize, v)
		}
		cfg.MaxAudioFileSize = n
	}

	if v := strings.TrimSpace(values[KeyPositionUpdateInterval]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid %s: %q", KeyPositionUpdateInterval, v)
		}
		cfg.PositionUpdateInterval = n
	}

	if v := strings.TrimSpace(values[KeyPositionInactiveThreshold]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid %s: %q", KeyPositionInactiveThreshold, v)
		}
		cfg.PositionInactiveThreshold = n
	}

	return cfg, nil
}

// CachedConfig serves a snapshot of the dispatch configuration, reloading it
// from the source once the TTL has elapsed. A zero TTL reloads every call.
type CachedConfig struct {
	source ConfigSource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	snapshot DispatchConfig
	loadedAt time.Time
	loaded   bool
}

// NewCachedConfig wraps source with a TTL snapshot.
func NewCachedConfig(source ConfigSource, ttl time.Duration) *CachedConfig {
	return &CachedConfig{source: source, ttl: ttl, now: time.Now}
}

// Load returns the current configuration. Reload failures are returned to the
// caller and leave the previous snapshot untouched.
func (c *CachedConfig) Load(ctx context.Context) (DispatchConfig, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
			cfg := c.snapshot
			c.mu.RUnlock()
			return cfg, nil
		}
		c.mu.RUnlock()
	}

	values, err := c.source.DispatchConfigValues(ctx)
	if err != nil {
		return DispatchConfig{}, fmt.Errorf("load dispatch config: %w", err)
	}
	cfg, err := ParseConfig(values)
	if err != nil {
		return DispatchConfig{}, err
	}

	c.mu.Lock()
	c.snapshot = cfg
	c.loadedAt = c.now()
	c.loaded = true
	c.mu.Unlock()

	return cfg, nil
}

// Invalidate drops the snapshot so the next Load hits the source.
func (c *CachedConfig) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
