// Package config loads chordsync configuration.
//
// Sources, highest precedence first: CHORDSYNC_* environment variables
// (a .env file in the working directory is loaded into the environment
// without overriding existing variables), an optional config file, and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/mod/semver"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CHORDSYNC"

// DefaultBaseURL is the public catalog origin.
const DefaultBaseURL = "https://htnguonsong.com"

// Config is the fully resolved configuration.
type Config struct {
	API   APIConfig
	Store StoreConfig
	Sync  SyncConfig
	Proxy ProxyConfig
	Cache CacheConfig
	Redis RedisConfig
	Log   LogConfig
}

// APIConfig locates the remote catalog.
type APIConfig struct {
	BaseURL       string
	SummaryPath   string
	SyncPath      string
	FavoritesPath string // empty leaves queued favorite operations in place
	Timeout       time.Duration
}

// StoreConfig locates the local catalog database.
type StoreConfig struct {
	Path string
}

// SyncConfig tunes the orchestrator and connectivity monitor.
type SyncConfig struct {
	PreferenceFile string
	BatchDelay     time.Duration
	OnlineSettle   time.Duration
	ProbeURL       string
	ProbeInterval  time.Duration
	AutoInterval   time.Duration // 0 disables periodic background sync
}

// ProxyConfig configures the background proxy process.
type ProxyConfig struct {
	Listen       string
	Origin       string
	Version      string
	StaticAssets []string
	ControlURL   string
}

// CacheConfig selects the cache generation backend.
type CacheConfig struct {
	Backend string // sqlite, redis or none
	Path    string
}

// RedisConfig is used when Cache.Backend is redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// DataDir returns the default directory for local state (~/.chordsync).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".chordsync"
	}
	return filepath.Join(home, ".chordsync")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dir := DataDir()

	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.summary_path", "/api/songs/count")
	v.SetDefault("api.sync_path", "/api/songs/sync")
	v.SetDefault("api.favorites_path", "")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("store.path", filepath.Join(dir, "offline.db"))

	v.SetDefault("sync.preference_file", filepath.Join(dir, "preferences.toml"))
	v.SetDefault("sync.batch_delay", 100*time.Millisecond)
	v.SetDefault("sync.online_settle", time.Second)
	v.SetDefault("sync.probe_url", "")
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.auto_interval", time.Duration(0))

	v.SetDefault("proxy.listen", "127.0.0.1:8787")
	v.SetDefault("proxy.origin", "")
	v.SetDefault("proxy.version", "v1.0.0")
	v.SetDefault("proxy.static_assets", []string{
		"/", "/index.html", "/manifest.json", "/Logo_app.png", "/logo192.png", "/logo512.png",
	})
	v.SetDefault("proxy.control_url", "")

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.path", filepath.Join(dir, "cache.db"))

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// Load resolves configuration. If path is empty, chordsync.{yaml,toml,json}
// is searched for in the working directory and ~/.config/chordsync; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chordsync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "chordsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:       strings.TrimRight(v.GetString("api.base_url"), "/"),
			SummaryPath:   v.GetString("api.summary_path"),
			SyncPath:      v.GetString("api.sync_path"),
			FavoritesPath: v.GetString("api.favorites_path"),
			Timeout:       v.GetDuration("api.timeout"),
		},
		Store: StoreConfig{Path: v.GetString("store.path")},
		Sync: SyncConfig{
			PreferenceFile: v.GetString("sync.preference_file"),
			BatchDelay:     v.GetDuration("sync.batch_delay"),
			OnlineSettle:   v.GetDuration("sync.online_settle"),
			ProbeURL:       v.GetString("sync.probe_url"),
			ProbeInterval:  v.GetDuration("sync.probe_interval"),
			AutoInterval:   v.GetDuration("sync.auto_interval"),
		},
		Proxy: ProxyConfig{
			Listen:       v.GetString("proxy.listen"),
			Origin:       strings.TrimRight(v.GetString("proxy.origin"), "/"),
			Version:      v.GetString("proxy.version"),
			StaticAssets: v.GetStringSlice("proxy.static_assets"),
			ControlURL:   v.GetString("proxy.control_url"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(v.GetString("cache.backend")),
			Path:    v.GetString("cache.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSize:    v.GetInt("log.max_size"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAge:     v.GetInt("log.max_age"),
			Compress:   v.GetBool("log.compress"),
		},
	}

	if cfg.Sync.ProbeURL == "" {
		cfg.Sync.ProbeURL = cfg.API.BaseURL
	}
	if cfg.Proxy.Origin == "" {
		cfg.Proxy.Origin = cfg.API.BaseURL
	}
	if cfg.Proxy.ControlURL == "" {
		cfg.Proxy.ControlURL = "ws://" + cfg.Proxy.Listen + "/__proxy/control"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	switch c.Cache.Backend {
	case "sqlite", "redis", "none":
	default:
		return fmt.Errorf("invalid cache.backend %q (expected sqlite, redis or none)", c.Cache.Backend)
	}
	if !semver.IsValid(c.Proxy.Version) {
		return fmt.Errorf("invalid proxy.version %q (expected a semantic version such as v1.0.0)", c.Proxy.Version)
	}
	if c.Sync.BatchDelay < 0 {
		return fmt.Errorf("sync.batch_delay cannot be negative")
	}
	return nil
}
