package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/cachectl"
	"github.com/chordbook/chordsync/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "cache",
	Short:   "Manage the app's cached assets",
	Long: `Manage the versioned asset caches kept by the proxy.

Requests go to the running proxy over its control channel. When no proxy
answers, the cache backend is managed directly.`,
}

// withBridge opens the cache backend and a bridge to the proxy.
func withBridge(run func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, a *app, args []string) error {
		backend, err := a.openCache(ctx)
		if err != nil {
			return fmt.Errorf("failed to open cache backend: %w", err)
		}
		defer func() {
			if err := backend.Close(); err != nil {
				a.logger.Warn("failed to close cache backend", zap.Error(err))
			}
		}()
		b := a.bridge(ctx, backend)
		defer b.Close()
		return run(ctx, a, b, backend)
	})
}

func printResult(action string, res cachectl.Result) error {
	return render(res, func() {
		if !res.Success {
			fmt.Printf("%s %s failed via %s: %s\n", ui.RenderFail("✗"), action, res.Method, res.Error)
			return
		}
		fmt.Printf("%s %s via %s", ui.RenderPass("✓"), action, res.Method)
		if res.Total > 0 {
			fmt.Printf(" (%d/%d cached)", res.Cached, res.Total)
		}
		fmt.Println()
		if res.Message != "" {
			fmt.Printf("   %s\n", ui.RenderMuted(res.Message))
		}
	})
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache generation",
	RunE: withBridge(func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error {
		return printResult("Caches cleared", b.ClearAllCaches(ctx))
	}),
}

var cacheUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the current static generation",
	RunE: withBridge(func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error {
		return printResult("Cache updated", b.UpdateCache(ctx))
	}),
}

var cachePreloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Cache the assets the app needs to start offline",
	RunE: withBridge(func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error {
		return printResult("Critical resources preloaded", b.PreloadCriticalResources(ctx))
	}),
}

var cacheActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Tell a waiting proxy to activate its new version now",
	RunE: withBridge(func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error {
		if err := b.SkipWaiting(ctx); err != nil {
			return fmt.Errorf("proxy not reachable: %w", err)
		}
		fmt.Printf("%s Activation requested\n", ui.RenderPass("✓"))
		return nil
	}),
}

// cacheReport is the machine-readable form of the cache stats command.
type cacheReport struct {
	Backend    string           `json:"backend"`
	Proxy      bool             `json:"proxy_connected"`
	Summary    *cache.Summary   `json:"summary"`
	Capability cache.Capability `json:"offline"`
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache generations and whether the app can start offline",
	RunE: withBridge(func(ctx context.Context, a *app, b *cachectl.Bridge, backend cache.Backend) error {
		sum, err := cache.Stats(ctx, backend)
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}
		capability, err := cache.CheckOfflineCapability(ctx, backend)
		if err != nil {
			return err
		}

		report := cacheReport{Backend: a.cfg.Cache.Backend, Proxy: b.Connected(), Summary: sum, Capability: capability}
		return render(report, func() {
			fmt.Printf("\n%s\n\n", ui.RenderHeader("App Cache"))
			fmt.Printf("Backend: %s\n", report.Backend)
			fmt.Printf("Proxy: %s\n", ui.Status(report.Proxy))
			for _, g := range sum.Generations {
				fmt.Printf("   %-32s %4d entries  %s\n", g.Name, g.Entries, g.Size())
			}
			fmt.Printf("Total: %s\n", humanize.IBytes(uint64(sum.TotalBytes)))
			if capability.Capable {
				fmt.Printf("%s App can start offline (%s)\n", ui.RenderPass("✓"), capability.Generation)
			} else {
				fmt.Printf("%s App cannot start offline: %s\n", ui.RenderWarn("⚠"), capability.Reason)
			}
			fmt.Println()
		})
	}),
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheUpdateCmd, cachePreloadCmd, cacheActivateCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
