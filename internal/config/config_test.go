package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper() failed: %v", err)
	}

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if cfg.API.SummaryPath != "/api/songs/count" {
		t.Errorf("API.SummaryPath = %q", cfg.API.SummaryPath)
	}
	if cfg.Sync.BatchDelay != 100*time.Millisecond {
		t.Errorf("Sync.BatchDelay = %v, want 100ms", cfg.Sync.BatchDelay)
	}
	if cfg.Sync.OnlineSettle != time.Second {
		t.Errorf("Sync.OnlineSettle = %v, want 1s", cfg.Sync.OnlineSettle)
	}
	if cfg.Sync.ProbeURL != DefaultBaseURL {
		t.Errorf("Sync.ProbeURL = %q, want base url", cfg.Sync.ProbeURL)
	}
	if cfg.Proxy.ControlURL != "ws://127.0.0.1:8787/__proxy/control" {
		t.Errorf("Proxy.ControlURL = %q", cfg.Proxy.ControlURL)
	}
	if len(cfg.Proxy.StaticAssets) != 6 {
		t.Errorf("len(Proxy.StaticAssets) = %d, want 6", len(cfg.Proxy.StaticAssets))
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Cache.Backend = %q, want sqlite", cfg.Cache.Backend)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chordsync.yaml")
	content := []byte(`api:
  base_url: http://catalog.local/
sync:
  batch_delay: 250ms
cache:
  backend: none
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("CHORDSYNC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.API.BaseURL != "http://catalog.local" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.Sync.BatchDelay != 250*time.Millisecond {
		t.Errorf("Sync.BatchDelay = %v, want 250ms", cfg.Sync.BatchDelay)
	}
	if cfg.Cache.Backend != "none" {
		t.Errorf("Cache.Backend = %q, want none", cfg.Cache.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from env", cfg.Log.Level)
	}
	if cfg.Proxy.Origin != "http://catalog.local" {
		t.Errorf("Proxy.Origin = %q, want base url", cfg.Proxy.Origin)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("cache.backend", "memcached")

	if _, err := FromViper(v); err == nil {
		t.Error("FromViper() accepted unknown cache backend")
	}
}

func TestValidate_ProxyVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"v1.0.0", false},
		{"v2.1.0-beta.1", false},
		{"v3", false},
		{"1.0.0", true},
		{"latest", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set("proxy.version", tt.version)
			_, err := FromViper(v)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromViper() with proxy.version %q: err = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}
