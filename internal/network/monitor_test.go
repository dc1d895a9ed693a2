package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func fixedDetector(c Class, effective string) Detector {
	return DetectorFunc(func() (Class, string) { return c, effective })
}

func TestState_ShouldSync(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"offline", State{Online: false, Class: ClassOffline, Preference: PreferenceAlways}, false},
		{"wifi always", State{Online: true, Class: ClassWifi, Preference: PreferenceAlways}, true},
		{"metered always", State{Online: true, Class: ClassMetered, Preference: PreferenceAlways}, true},
		{"wifi wifi-only", State{Online: true, Class: ClassWifi, Preference: PreferenceWifiOnly}, true},
		{"metered wifi-only", State{Online: true, Class: ClassMetered, Preference: PreferenceWifiOnly}, false},
		{"unknown wifi-only", State{Online: true, Class: ClassUnknown, Preference: PreferenceWifiOnly}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.ShouldSync(); got != tt.want {
				t.Errorf("ShouldSync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewMonitor_UnknownClassDefaultsToWifi(t *testing.T) {
	m := NewMonitor(&Config{Detector: fixedDetector(ClassUnknown, "")})
	if got := m.State().Class; got != ClassWifi {
		t.Errorf("Class = %q, want wifi", got)
	}
	if !m.ShouldSync() {
		t.Error("ShouldSync() = false for default online monitor")
	}
}

func TestSetOnline_Transitions(t *testing.T) {
	m := NewMonitor(&Config{Detector: fixedDetector(ClassMetered, Effective3G)})

	var mu sync.Mutex
	var seen []State
	unsubscribe := m.OnChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	m.SetOnline(false)
	if m.IsOnline() || m.State().Class != ClassOffline {
		t.Errorf("state after offline = %+v", m.State())
	}
	if m.ShouldSync() {
		t.Error("ShouldSync() = true while offline")
	}

	m.SetOnline(true)
	if st := m.State(); st.Class != ClassMetered || st.EffectiveType != Effective3G {
		t.Errorf("state after online = %+v", st)
	}

	// Same state again does not notify.
	m.SetOnline(true)

	unsubscribe()
	m.SetOnline(false)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("listener saw %d transitions, want 2", len(seen))
	}
	if seen[0].Online || !seen[1].Online {
		t.Errorf("transitions = %+v", seen)
	}
}

func TestSetSyncPreference_PersistsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "preferences.toml")
	m := NewMonitor(&Config{PreferenceFile: path, Detector: fixedDetector(ClassMetered, Effective4G)})

	if m.SyncPreference() != PreferenceAlways {
		t.Errorf("default preference = %q, want always", m.SyncPreference())
	}

	if err := m.SetSyncPreference("wifi-only"); err != nil {
		t.Fatalf("SetSyncPreference() failed: %v", err)
	}
	if m.ShouldSync() {
		t.Error("ShouldSync() = true on metered with wifi-only")
	}

	err := m.SetSyncPreference("sometimes")
	if !errors.Is(err, ErrInvalidPreference) {
		t.Errorf("SetSyncPreference(invalid) error = %v, want ErrInvalidPreference", err)
	}
	if m.SyncPreference() != PreferenceWifiOnly {
		t.Errorf("invalid value changed preference to %q", m.SyncPreference())
	}

	// A second monitor sees the persisted value.
	other := NewMonitor(&Config{PreferenceFile: path})
	if other.SyncPreference() != PreferenceWifiOnly {
		t.Errorf("reloaded preference = %q, want wifi-only", other.SyncPreference())
	}
}

func TestNewMonitor_InvalidPreferenceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	if err := os.WriteFile(path, []byte(`sync_preference = "never"`), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	m := NewMonitor(&Config{PreferenceFile: path})
	if m.SyncPreference() != DefaultPreference {
		t.Errorf("preference = %q, want default", m.SyncPreference())
	}
}

func TestWatchPreference_ExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	m := NewMonitor(&Config{PreferenceFile: path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	// Another instance writes the file.
	other := NewMonitor(&Config{PreferenceFile: path})
	if err := other.SetSyncPreference("wifi-only"); err != nil {
		t.Fatalf("SetSyncPreference() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.SyncPreference() == PreferenceWifiOnly {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("preference = %q after external change, want wifi-only", m.SyncPreference())
}

type fakeProber struct {
	mu     sync.Mutex
	online bool
}

func (p *fakeProber) Probe(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func TestProbeLoop(t *testing.T) {
	prober := &fakeProber{online: false}
	m := NewMonitor(&Config{
		Prober:        prober,
		ProbeInterval: 10 * time.Millisecond,
		Detector:      fixedDetector(ClassWifi, ""),
	})

	changes := make(chan State, 10)
	m.OnChange(func(s State) { changes <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer m.Stop()

	select {
	case s := <-changes:
		if s.Online {
			t.Errorf("first transition = %+v, want offline", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop never reported offline")
	}

	prober.mu.Lock()
	prober.online = true
	prober.mu.Unlock()

	select {
	case s := <-changes:
		if !s.Online {
			t.Errorf("second transition = %+v, want online", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop never reported online")
	}
}

func TestStop_NotStarted(t *testing.T) {
	if err := NewMonitor(nil).Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	url := srv.URL

	p := HTTPProber{URL: url}
	if !p.Probe(context.Background()) {
		t.Error("Probe() = false for reachable server")
	}

	srv.Close()
	if p.Probe(context.Background()) {
		t.Error("Probe() = true for closed server")
	}
}

func TestInterfaceDetector(t *testing.T) {
	up := net.FlagUp
	tests := []struct {
		name   string
		ifaces []net.Interface
		want   Class
	}{
		{"wired", []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}, {Name: "eth0", Flags: up}}, ClassWifi},
		{"wireless", []net.Interface{{Name: "wlan0", Flags: up}}, ClassWifi},
		{"cellular wins", []net.Interface{{Name: "wlan0", Flags: up}, {Name: "wwan0", Flags: up}}, ClassMetered},
		{"down ignored", []net.Interface{{Name: "wwan0"}, {Name: "eth0", Flags: up}}, ClassWifi},
		{"nothing", []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}}, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := InterfaceDetector{Interfaces: func() ([]net.Interface, error) { return tt.ifaces, nil }}
			if got, _ := d.Detect(); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEstimateDataUsage(t *testing.T) {
	got := EstimateDataUsage(0)
	if got.EstimatedKB != 0.5 {
		t.Errorf("EstimateDataUsage(0).EstimatedKB = %v, want 0.5", got.EstimatedKB)
	}
	if got.Formatted != "512 B" {
		t.Errorf("EstimateDataUsage(0).Formatted = %q, want 512 B", got.Formatted)
	}

	got = EstimateDataUsage(4)
	if got.EstimatedKB != 8.5 {
		t.Errorf("EstimateDataUsage(4).EstimatedKB = %v, want 8.5", got.EstimatedKB)
	}
	if got.Formatted != "8.5 KiB" {
		t.Errorf("EstimateDataUsage(4).Formatted = %q, want 8.5 KiB", got.Formatted)
	}
}

func TestConnectionInfo(t *testing.T) {
	m := NewMonitor(&Config{Detector: fixedDetector(ClassMetered, Effective4G)})
	info := m.ConnectionInfo()
	if !info.IsOnline || info.ConnectionName != "4G/5G" || !info.CanSync {
		t.Errorf("ConnectionInfo() = %+v", info)
	}
	m.SetOnline(false)
	if info := m.ConnectionInfo(); info.ConnectionName != "Offline" || info.CanSync {
		t.Errorf("ConnectionInfo() offline = %+v", info)
	}
}
