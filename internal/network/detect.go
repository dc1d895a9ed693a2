package network

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Detector reports the class of the active network. Returning ClassUnknown
// means the platform cannot tell.
type Detector interface {
	Detect() (Class, string)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func() (Class, string)

// Detect implements Detector.
func (f DetectorFunc) Detect() (Class, string) { return f() }

// InterfaceDetector classifies by the names of up, non-loopback interfaces.
// Cellular modems win over wireless LAN, which wins over wired links.
type InterfaceDetector struct {
	// Interfaces lists interfaces; defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

var (
	cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp_ip", "usb", "ppp"}
	wirelessPrefixes = []string{"wl", "wlan", "wifi", "ath", "ra"}
	wiredPrefixes    = []string{"en", "eth", "em", "eno", "ens", "enp"}
)

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Detect implements Detector.
func (d InterfaceDetector) Detect() (Class, string) {
	list := d.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return ClassUnknown, ""
	}

	var wireless, wired bool
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		switch {
		case hasAnyPrefix(name, cellularPrefixes):
			return ClassMetered, Effective4G
		case hasAnyPrefix(name, wirelessPrefixes):
			wireless = true
		case hasAnyPrefix(name, wiredPrefixes):
			wired = true
		}
	}
	if wireless || wired {
		return ClassWifi, ""
	}
	return ClassUnknown, ""
}

// Prober checks whether the remote is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber issues a HEAD request; any response at all counts as online.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (p HTTPProber) String() string {
	return fmt.Sprintf("HEAD %s", p.URL)
}
