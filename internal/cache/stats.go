package cache

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

// GenerationStats summarizes one generation.
type GenerationStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Size formats Bytes for display.
func (g GenerationStats) Size() string {
	return humanize.IBytes(uint64(g.Bytes))
}

// Summary is the result of Stats.
type Summary struct {
	Generations []GenerationStats `json:"generations"`
	TotalBytes  int64             `json:"total_bytes"`
}

// Stats counts entries and body bytes per generation.
func Stats(ctx context.Context, b Backend) (*Summary, error) {
	names, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Generations: make([]GenerationStats, 0, len(names))}
	for _, name := range names {
		keys, err := b.Entries(ctx, name)
		if err != nil {
			return nil, err
		}
		gs := GenerationStats{Name: name, Entries: len(keys)}
		for _, key := range keys {
			e, ok, err := b.Match(ctx, name, key)
			if err != nil {
				return nil, err
			}
			if ok {
				gs.Bytes += int64(len(e.Body))
			}
		}
		sum.TotalBytes += gs.Bytes
		sum.Generations = append(sum.Generations, gs)
	}
	return sum, nil
}

// EssentialAssets must be cached for the app shell to load offline.
var EssentialAssets = []string{"/index.html", "/manifest.json"}

// Capability is the result of CheckOfflineCapability.
type Capability struct {
	Capable    bool   `json:"capable"`
	Generation string `json:"generation,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CheckOfflineCapability reports whether a static generation exists and
// holds every essential asset.
func CheckOfflineCapability(ctx context.Context, b Backend) (Capability, error) {
	if _, ok := b.(None); ok {
		return Capability{Reason: "cache storage not available"}, nil
	}

	names, err := b.Keys(ctx)
	if err != nil {
		return Capability{}, err
	}
	var static string
	for _, name := range names {
		if IsStatic(name) {
			static = name
			break
		}
	}
	if static == "" {
		return Capability{Reason: "no static cache found"}, nil
	}

	for _, asset := range EssentialAssets {
		_, ok, err := b.Match(ctx, static, asset)
		if err != nil {
			return Capability{}, err
		}
		if !ok {
			return Capability{Generation: static, Reason: fmt.Sprintf("essential file %s not cached", asset)}, nil
		}
	}
	return Capability{Capable: true, Generation: static}, nil
}
