package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/cachectl"
	"github.com/chordbook/chordsync/internal/catalog"
	"github.com/chordbook/chordsync/internal/config"
	"github.com/chordbook/chordsync/internal/logging"
	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/offline"
	"github.com/chordbook/chordsync/internal/store"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Lazy
	catalog *catalog.Client
	monitor *network.Monitor
	manager *offline.Manager
	prober  network.HTTPProber
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store.NewLazy(cfg.Store.Path, logger),
		catalog: catalog.New(&catalog.Config{
			BaseURL:       cfg.API.BaseURL,
			SummaryPath:   cfg.API.SummaryPath,
			SyncPath:      cfg.API.SyncPath,
			FavoritesPath: cfg.API.FavoritesPath,
			Timeout:       cfg.API.Timeout,
			Logger:        logger,
		}),
		prober: network.HTTPProber{URL: cfg.Sync.ProbeURL, Client: &http.Client{Timeout: 5 * time.Second}},
	}
	a.monitor = network.NewMonitor(&network.Config{
		PreferenceFile: cfg.Sync.PreferenceFile,
		ProbeInterval:  cfg.Sync.ProbeInterval,
		Prober:         a.prober,
		Logger:         logger,
	})
	a.manager = offline.New(a.store, a.catalog, a.monitor, offline.Options{
		BatchDelay: cfg.Sync.BatchDelay,
		Logger:     logger,
	})
	return a, nil
}

// probe checks connectivity once so one-shot commands see the real state.
func (a *app) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.monitor.SetOnline(a.prober.Probe(ctx))
}

func (a *app) openCache(ctx context.Context) (cache.Backend, error) {
	return cache.New(ctx, cache.Config{
		Backend:       a.cfg.Cache.Backend,
		Path:          a.cfg.Cache.Path,
		RedisAddr:     a.cfg.Redis.Addr,
		RedisPassword: a.cfg.Redis.Password,
		RedisDB:       a.cfg.Redis.DB,
	}, a.logger)
}

// bridge connects to a running proxy. Without one every operation falls
// back to managing backend directly.
func (a *app) bridge(ctx context.Context, backend cache.Backend) *cachectl.Bridge {
	b := cachectl.New(&cachectl.Config{
		URL:     a.cfg.Proxy.ControlURL,
		Version: a.cfg.Proxy.Version,
		Backend: backend,
		Origin:  a.cfg.Proxy.Origin,
		Logger:  a.logger,
	})
	if err := b.Connect(ctx); err != nil {
		a.logger.Debug("proxy not reachable", zap.Error(err))
	}
	return b
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp adapts a command body that needs the shared components.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd.Context(), a, args)
	}
}
