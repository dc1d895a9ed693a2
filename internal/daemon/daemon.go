// Package daemon runs sync in the background in reaction to connectivity.
//
// The daemon:
//  1. Subscribes to network state transitions
//  2. Waits for the connection to settle after coming back online
//  3. Replays queued operations and runs a smart sync
//  4. Optionally runs a background smart sync on a fixed interval
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/offline"
)

// Syncer is the part of offline.Manager the daemon drives.
type Syncer interface {
	SyncWhenOnline(ctx context.Context) offline.SmartSyncResult
	PerformSmartSync(ctx context.Context, sc offline.SyncContext) offline.SmartSyncResult
}

// Watcher reports connectivity transitions.
type Watcher interface {
	State() network.State
	OnChange(fn func(network.State)) func()
}

// Config holds configuration for the daemon.
type Config struct {
	// OnlineSettle is how long the connection must stay up before syncing.
	// Repeated transitions restart the wait.
	OnlineSettle time.Duration

	// AutoInterval runs a background smart sync periodically. Zero disables it.
	AutoInterval time.Duration

	// OnSync is called after every sync the daemon runs.
	OnSync func(offline.SmartSyncResult)

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OnlineSettle: time.Second,
	}
}

// Daemon reacts to connectivity changes.
type Daemon struct {
	syncer  Syncer
	watcher Watcher
	config  *Config
	logger  *zap.Logger

	changes     chan network.State
	unsubscribe func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Use Start to begin watching.
func New(syncer Syncer, watcher Watcher, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if watcher == nil {
		return nil, fmt.Errorf("watcher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.OnlineSettle < 0 {
		return nil, fmt.Errorf("online settle cannot be negative")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:  syncer,
		watcher: watcher,
		config:  config,
		logger:  logging.OrNop(config.Logger).Named("daemon"),
		changes: make(chan network.State, 16),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation. It blocks until ctx is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon",
		zap.Duration("online_settle", d.config.OnlineSettle),
		zap.Duration("auto_interval", d.config.AutoInterval))

	initial := d.watcher.State()
	d.unsubscribe = d.watcher.OnChange(d.queueChange)

	d.wg.Add(1)
	go d.watchTransitions(initial.Online)

	if d.config.AutoInterval > 0 {
		d.wg.Add(1)
		go d.autoSync()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A sync in flight is cancelled.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		if d.unsubscribe != nil {
			d.unsubscribe()
		}
		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// queueChange is the monitor callback. It must not block the notifier.
func (d *Daemon) queueChange(s network.State) {
	select {
	case d.changes <- s:
	case <-d.ctx.Done():
	default:
		d.logger.Warn("state change queue full, dropping transition", zap.Bool("online", s.Online))
	}
}

// watchTransitions debounces offline to online transitions into syncs.
func (d *Daemon) watchTransitions(online bool) {
	defer d.wg.Done()

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	pending := false

	for {
		select {
		case <-d.ctx.Done():
			settle.Stop()
			return

		case s := <-d.changes:
			cameOnline := s.Online && !online
			online = s.Online

			switch {
			case !s.Online && pending:
				settle.Stop()
				pending = false
				d.logger.Debug("went offline before settling")
			case cameOnline || (s.Online && pending):
				settle.Reset(d.config.OnlineSettle)
				pending = true
				d.logger.Debug("back online, waiting to settle", zap.Duration("settle", d.config.OnlineSettle))
			}

		case <-settle.C:
			pending = false
			if !d.watcher.State().ShouldSync() {
				d.logger.Info("back online but sync not allowed on this connection")
				continue
			}
			d.logger.Info("back online, syncing")
			d.report(d.syncer.SyncWhenOnline(d.ctx))
		}
	}
}

// autoSync runs a background smart sync every AutoInterval.
func (d *Daemon) autoSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.AutoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.watcher.State().ShouldSync() {
				continue
			}
			d.report(d.syncer.PerformSmartSync(d.ctx, offline.SyncAuto))
		}
	}
}

func (d *Daemon) report(res offline.SmartSyncResult) {
	if res.Reason == offline.ReasonAlreadyInProgress {
		d.logger.Debug("sync already in progress")
		return
	}
	if res.Success {
		d.logger.Info("sync finished",
			zap.String("reason", res.Reason),
			zap.Int("new", res.NewCount),
			zap.Int("updated", res.UpdatedCount))
	} else {
		d.logger.Warn("sync failed",
			zap.String("reason", res.Reason),
			zap.String("error", res.Error))
	}
	if d.config.OnSync != nil {
		d.config.OnSync(res)
	}
}
