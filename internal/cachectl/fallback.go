package cachectl

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
)

// Assets refreshed by the update fallback.
var essentialFiles = []string{"/index.html", "/manifest.json", "/favicon.ico"}

// Assets cached by the preload fallback.
var criticalResources = []string{"/", "/index.html", "/manifest.json", "/favicon.ico"}

// fallbackGeneration receives assets preloaded without a proxy.
var fallbackGeneration = cache.StaticGeneration("fallback")

func (b *Bridge) fallbackClear(ctx context.Context) Result {
	if _, ok := b.config.Backend.(cache.None); ok {
		return Result{Success: true, Method: MethodFallback, Message: "cache storage not available"}
	}

	names, err := b.config.Backend.Keys(ctx)
	if err != nil {
		return Result{Method: MethodFallback, Error: err.Error()}
	}
	for _, name := range names {
		if _, err := b.config.Backend.Delete(ctx, name); err != nil {
			return Result{Method: MethodFallback, Error: err.Error()}
		}
	}
	return Result{Success: true, Method: MethodFallback}
}

func (b *Bridge) fallbackUpdate(ctx context.Context) Result {
	if _, ok := b.config.Backend.(cache.None); ok {
		return Result{Success: true, Method: MethodFallback, Message: "cache update skipped"}
	}

	names, err := b.config.Backend.Keys(ctx)
	if err != nil {
		return Result{Method: MethodFallback, Error: err.Error()}
	}
	current := map[string]bool{
		cache.StaticGeneration(b.config.Version):  true,
		cache.DynamicGeneration(b.config.Version): true,
	}
	for _, name := range names {
		if cache.IsOwned(name) && !current[name] {
			if _, err := b.config.Backend.Delete(ctx, name); err != nil {
				return Result{Method: MethodFallback, Error: err.Error()}
			}
		}
	}

	gen := cache.StaticGeneration(b.config.Version)
	if err := b.config.Backend.Open(ctx, gen); err != nil {
		return Result{Method: MethodFallback, Error: err.Error()}
	}
	cached := b.addAll(ctx, gen, essentialFiles)
	return Result{Success: true, Method: MethodFallback, Cached: cached, Total: len(essentialFiles)}
}

func (b *Bridge) fallbackPreload(ctx context.Context) Result {
	if _, ok := b.config.Backend.(cache.None); ok {
		return Result{Success: true, Method: MethodFallback, Message: "cache storage not available"}
	}

	if err := b.config.Backend.Open(ctx, fallbackGeneration); err != nil {
		return Result{Method: MethodFallback, Error: err.Error()}
	}
	cached := b.addAll(ctx, fallbackGeneration, criticalResources)
	return Result{Success: true, Method: MethodFallback, Cached: cached, Total: len(criticalResources)}
}

// addAll caches each path independently and returns how many succeeded.
func (b *Bridge) addAll(ctx context.Context, gen string, paths []string) int {
	if b.config.Origin == "" {
		b.logger.Warn("no origin configured, nothing fetched")
		return 0
	}
	cached := 0
	for _, p := range paths {
		err := cache.Add(ctx, b.config.Backend, b.config.HTTPClient, b.config.Origin, gen, p)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			b.logger.Warn("failed to cache resource", zap.String("path", p), zap.Error(err))
			continue
		}
		cached++
	}
	return cached
}
