// Package network decides whether a sync may run right now.
//
// A Monitor tracks connectivity (online or offline), the connection class
// (wifi, metered or offline) and the user's persisted sync preference.
// Sync is allowed when online, unless the preference is wifi-only and the
// connection is metered.
package network

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Class is the kind of network the process is on.
type Class string

const (
	ClassWifi    Class = "wifi"
	ClassMetered Class = "metered"
	ClassOffline Class = "offline"
	ClassUnknown Class = "unknown"
)

// DisplayName returns the user-facing label for c.
func (c Class) DisplayName() string {
	switch c {
	case ClassWifi:
		return "WiFi"
	case ClassMetered:
		return "4G/5G"
	case ClassOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Preference is the persisted sync preference.
type Preference string

const (
	PreferenceAlways   Preference = "always"
	PreferenceWifiOnly Preference = "wifi-only"
)

// DefaultPreference is used until the user picks one.
const DefaultPreference = PreferenceAlways

// ParsePreference validates a preference string.
func ParsePreference(s string) (Preference, error) {
	switch p := Preference(s); p {
	case PreferenceAlways, PreferenceWifiOnly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidPreference, s, PreferenceAlways, PreferenceWifiOnly)
	}
}

// Effective connection types as reported by cellular modems.
const (
	Effective4G     = "4g"
	EffectiveLTE    = "lte"
	Effective3G     = "3g"
	Effective2G     = "2g"
	EffectiveSlow2G = "slow-2g"
)

// State is a snapshot of the monitor.
type State struct {
	Online        bool
	Class         Class
	EffectiveType string
	Preference    Preference
}

// ShouldSync applies the sync policy to the snapshot.
func (s State) ShouldSync() bool {
	if !s.Online {
		return false
	}
	if s.Preference == PreferenceWifiOnly && s.Class == ClassMetered {
		return false
	}
	return true
}

// ConnectionInfo is the display-oriented view of the monitor state.
type ConnectionInfo struct {
	IsOnline       bool       `json:"is_online"`
	ConnectionType Class      `json:"connection_type"`
	EffectiveType  string     `json:"effective_type,omitempty"`
	SyncPreference Preference `json:"sync_preference"`
	CanSync        bool       `json:"can_sync"`
	ConnectionName string     `json:"connection_name"`
}

// Info converts the snapshot for display.
func (s State) Info() ConnectionInfo {
	return ConnectionInfo{
		IsOnline:       s.Online,
		ConnectionType: s.Class,
		EffectiveType:  s.EffectiveType,
		SyncPreference: s.Preference,
		CanSync:        s.ShouldSync(),
		ConnectionName: s.Class.DisplayName(),
	}
}

// DataUsage is a rough transfer estimate for display.
type DataUsage struct {
	EstimatedKB float64
	Formatted   string
}

// EstimateDataUsage estimates the transfer for syncing n records at about
// 2 KB each plus a fixed 0.5 KB of request overhead.
func EstimateDataUsage(n int) DataUsage {
	if n < 0 {
		n = 0
	}
	kb := float64(n)*2 + 0.5
	return DataUsage{
		EstimatedKB: kb,
		Formatted:   humanize.IBytes(uint64(kb * 1024)),
	}
}
