package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParseConfig(map[string]string{})
		if err != nil {
			t.Fatalf("ParseConfig() error = %v", err)
		}
		if cfg.APIEnabled {
			t.Error("APIEnabled should default to false")
		}
		if cfg.AudioStoragePath != DefaultAudioStoragePath || cfg.MaxAudioFileSize != 10485760 ||
			cfg.PositionUpdateInterval != 60 || cfg.PositionInactiveThreshold != 1800 {
			t.Errorf("unexpected defaults %+v", cfg)
		}
	})

	t.Run("only literal one enables", func(t *testing.T) {
		for _, v := range []string{"true", "yes", "on", "01", " 1", ""} {
			cfg, err := ParseConfig(map[string]string{KeyAPIEnabled: v})
			if err != nil {
				t.Fatalf("ParseConfig(%q) error = %v", v, err)
			}
			if cfg.APIEnabled {
				t.Errorf("api_enabled=%q enabled the API", v)
			}
		}
		cfg, _ := ParseConfig(map[string]string{KeyAPIEnabled: "1"})
		if !cfg.APIEnabled {
			t.Error("api_enabled=1 should enable the API")
		}
	})

	t.Run("invalid size", func(t *testing.T) {
		if _, err := ParseConfig(map[string]string{KeyMaxAudioFileSize: "ten"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("public view hides key", func(t *testing.T) {
		cfg, _ := ParseConfig(map[string]string{KeyAPIEnabled: "1", KeyAPIKey: "secret"})
		pub := cfg.Public()
		if !pub.APIEnabled || pub.MaxAudioFileSize != DefaultMaxAudioFileSize {
			t.Errorf("unexpected public config %+v", pub)
		}
	})
}

func TestCachedConfigTTL(t *testing.T) {
	store := newMemStore(enabledConfig())
	cache := NewCachedConfig(store, 5*time.Second)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := cache.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store.config[KeyAPIEnabled] = "0"

	now = now.Add(4 * time.Second)
	cfg, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.APIEnabled || store.configCalls != 1 {
		t.Errorf("snapshot not reused within TTL: enabled=%v calls=%d", cfg.APIEnabled, store.configCalls)
	}

	now = now.Add(2 * time.Second)
	cfg, err = cache.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIEnabled || store.configCalls != 2 {
		t.Errorf("snapshot not reloaded after TTL: enabled=%v calls=%d", cfg.APIEnabled, store.configCalls)
	}
}

func TestCachedConfigReloadErrorKeepsSnapshot(t *testing.T) {
	store := newMemStore(enabledConfig())
	cache := NewCachedConfig(store, time.Second)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := cache.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	store.failConfig = errBoom
	now = now.Add(2 * time.Second)
	if _, err := cache.Load(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("Load() error = %v, want boom", err)
	}

	store.failConfig = nil
	cfg, err := cache.Load(ctx)
	if err != nil || !cfg.APIEnabled {
		t.Errorf("Load() after recovery = %+v, %v", cfg, err)
	}
}

func TestCachedConfigZeroTTLAlwaysReloads(t *testing.T) {
	store := newMemStore(enabledConfig())
	cache := NewCachedConfig(store, 0)
	for i := 0; i < 3; i++ {
		if _, err := cache.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	if store.configCalls != 3 {
		t.Errorf("configCalls = %d, want 3", store.configCalls)
	}
}

func TestCachedConfigInvalidate(t *testing.T) {
	store := newMemStore(enabledConfig())
	cache := NewCachedConfig(store, time.Hour)
	ctx := context.Background()

	_, _ = cache.Load(ctx)
	cache.Invalidate()
	_, _ = cache.Load(ctx)
	if store.configCalls != 2 {
		t.Errorf("configCalls = %d, want 2", store.configCalls)
	}
}
