package network

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
)

// Config configures a Monitor.
type Config struct {
	// PreferenceFile persists the sync preference (TOML). Empty keeps the
	// preference in memory only.
	PreferenceFile string

	// ProbeInterval is how often Prober is consulted while started.
	// Zero disables probing; connectivity then changes only via SetOnline.
	ProbeInterval time.Duration

	Prober   Prober
	Detector Detector
	Logger   *zap.Logger
}

// Monitor tracks connectivity and the sync preference.
type Monitor struct {
	config *Config
	logger *zap.Logger

	mu            sync.RWMutex
	online        bool
	class         Class
	effectiveType string
	preference    Preference

	listenersMu sync.Mutex
	listeners   map[int]func(State)
	nextID      int

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor that assumes it is online until told
// otherwise. The persisted preference is loaded immediately.
func NewMonitor(config *Config) *Monitor {
	if config == nil {
		config = &Config{}
	}
	if config.Detector == nil {
		config.Detector = InterfaceDetector{}
	}
	m := &Monitor{
		config:     config,
		logger:     logging.OrNop(config.Logger).Named("network"),
		online:     true,
		preference: DefaultPreference,
		listeners:  make(map[int]func(State)),
	}
	m.class, m.effectiveType = m.detect()

	if p, err := loadPreference(config.PreferenceFile); err != nil {
		m.logger.Warn("ignoring unreadable sync preference", zap.Error(err))
	} else {
		m.preference = p
	}
	return m
}

// detect asks the detector for the class. An online platform that cannot
// report a class is assumed to be on wifi.
func (m *Monitor) detect() (Class, string) {
	class, effective := m.config.Detector.Detect()
	if class == ClassUnknown || class == ClassOffline || class == "" {
		return ClassWifi, ""
	}
	return class, effective
}

// Start begins probing connectivity and watching the preference file.
// It returns once the background goroutines are running.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.config.PreferenceFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		// Watch the directory: the file is replaced by rename on save.
		dir := filepath.Dir(m.config.PreferenceFile)
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			cancel()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		m.watcher = watcher
		m.wg.Add(1)
		go m.watchPreference(ctx)
	}

	if m.config.Prober != nil && m.config.ProbeInterval > 0 {
		m.wg.Add(1)
		go m.probeLoop(ctx)
	}
	return nil
}

// Stop halts background work and waits for it to finish.
func (m *Monitor) Stop() error {
	if m.cancel == nil {
		return ErrNotStarted
	}
	m.cancel()
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Warn("error closing watcher", zap.Error(err))
		}
	}
	m.wg.Wait()
	return nil
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeInterval)
		online := m.config.Prober.Probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		m.SetOnline(online)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) watchPreference(ctx context.Context) {
	defer m.wg.Done()

	target := filepath.Clean(m.config.PreferenceFile)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			m.reloadPreference()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("preference watcher error", zap.Error(err))
		}
	}
}

// reloadPreference picks up a preference written by another process.
func (m *Monitor) reloadPreference() {
	p, err := loadPreference(m.config.PreferenceFile)
	if err != nil {
		m.logger.Warn("ignoring invalid sync preference", zap.Error(err))
		return
	}
	m.mu.Lock()
	changed := m.preference != p
	m.preference = p
	m.mu.Unlock()

	if changed {
		m.logger.Info("sync preference changed", zap.String("preference", string(p)))
	}
}

// SetOnline records a connectivity transition. Going online re-detects the
// connection class. Listeners are notified when the state changes.
func (m *Monitor) SetOnline(online bool) {
	var class Class
	var effective string
	if online {
		class, effective = m.detect()
	} else {
		class = ClassOffline
	}

	m.mu.Lock()
	changed := m.online != online || m.class != class || m.effectiveType != effective
	m.online = online
	m.class = class
	m.effectiveType = effective
	state := m.stateLocked()
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("connectivity changed",
		zap.Bool("online", online),
		zap.String("class", string(class)))
	m.notify(state)
}

// SetEffectiveType overrides the effective cellular type, for platforms
// that report it out of band.
func (m *Monitor) SetEffectiveType(t string) {
	m.mu.Lock()
	m.effectiveType = t
	m.mu.Unlock()
}

// OnChange registers fn for state transitions. The returned function
// unregisters it.
func (m *Monitor) OnChange(fn func(State)) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Monitor) notify(s State) {
	m.listenersMu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Monitor) stateLocked() State {
	return State{
		Online:        m.online,
		Class:         m.class,
		EffectiveType: m.effectiveType,
		Preference:    m.preference,
	}
}

// State returns a snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// IsOnline reports the last known connectivity.
func (m *Monitor) IsOnline() bool {
	return m.State().Online
}

// ShouldSync reports whether a sync may run now.
func (m *Monitor) ShouldSync() bool {
	return m.State().ShouldSync()
}

// SyncPreference returns the current preference.
func (m *Monitor) SyncPreference() Preference {
	return m.State().Preference
}

// SetSyncPreference validates, applies and persists p. Invalid values are
// rejected and leave the current preference unchanged.
func (m *Monitor) SetSyncPreference(p string) error {
	pref, err := ParsePreference(p)
	if err != nil {
		return err
	}
	if err := savePreference(m.config.PreferenceFile, pref); err != nil {
		return err
	}
	m.mu.Lock()
	m.preference = pref
	m.mu.Unlock()
	return nil
}

// ConnectionInfo returns the display view of the current state.
func (m *Monitor) ConnectionInfo() ConnectionInfo {
	return m.State().Info()
}
