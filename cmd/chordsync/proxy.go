package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cachectl"
	"github.com/chordbook/chordsync/internal/daemon"
	"github.com/chordbook/chordsync/internal/offline"
	"github.com/chordbook/chordsync/internal/proxy"
	"github.com/chordbook/chordsync/internal/ui"
)

var (
	proxyListen     string
	proxyWithDaemon bool
	proxyOpen       bool
)

var proxyCmd = &cobra.Command{
	Use:     "proxy",
	GroupID: "cache",
	Short:   "Run the offline proxy in front of the web app",
	Long: `Run a local proxy that serves the web app and keeps versioned copies of
its assets. When the origin is unreachable, cached copies are served and
page loads fall back to the cached app shell.

On start the proxy precaches the static assets for the configured version
and removes caches left by older versions.

Pages connect to the control channel at /__proxy/control to manage caches.
With --daemon the connectivity daemon runs in the same process and every
sync it completes is announced to connected pages.`,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		backend, err := a.openCache(ctx)
		if err != nil {
			return fmt.Errorf("failed to open cache backend: %w", err)
		}
		defer backend.Close()

		listen := a.cfg.Proxy.Listen
		if proxyListen != "" {
			listen = proxyListen
		}
		var server *proxy.Server
		server, err = proxy.NewServer(&proxy.Config{
			Listen:       listen,
			Origin:       a.cfg.Proxy.Origin,
			Version:      a.cfg.Proxy.Version,
			StaticAssets: a.cfg.Proxy.StaticAssets,
			Backend:      backend,
			Opener:       browserOpener(func() string { return server.Addr() }),
			Logger:       a.logger,
		})
		if err != nil {
			return err
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start proxy: %w", err)
		}

		fmt.Printf("%s Proxy started on http://%s\n", ui.RenderAccent("🚀"), server.Addr())
		fmt.Printf("   Origin: %s\n", a.cfg.Proxy.Origin)
		fmt.Printf("   Control: ws://%s%s\n", server.Addr(), proxy.ControlPath)
		fmt.Printf("   Health: http://%s%s\n", server.Addr(), proxy.HealthPath)
		fmt.Println("\nPress Ctrl+C to stop...")

		if proxyOpen {
			if err := browserOpener(server.Addr).OpenPage("/"); err != nil {
				a.logger.Warn("failed to open browser", zap.Error(err))
			}
		}

		if proxyWithDaemon {
			err = runDaemon(ctx, a, func(res offline.SmartSyncResult) {
				data, _ := json.Marshal(res)
				server.Broadcast(cachectl.Message{Type: cachectl.TypeSyncComplete, Success: res.Success, Data: data})
			})
		} else {
			<-ctx.Done()
		}

		fmt.Println("\nShutting down proxy...")
		if stopErr := server.Stop(); stopErr != nil {
			return stopErr
		}
		return err
	}),
}

// browserOpener opens pages served by the proxy in the system browser.
func browserOpener(addr func() string) proxy.PageOpener {
	return proxy.PageOpenerFunc(func(path string) error {
		url := path
		if strings.HasPrefix(path, "/") {
			url = "http://" + addr() + path
		}
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "darwin":
			cmd = exec.Command("open", url)
		case "windows":
			cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
		default:
			cmd = exec.Command("xdg-open", url)
		}
		return cmd.Start()
	})
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync automatically when connectivity returns (foreground)",
	Long: `Run the connectivity daemon in the foreground.

The daemon probes the catalog to track connectivity. When the connection
comes back and stays up for sync.online_settle, queued favorite changes are
pushed and a smart sync runs, subject to the sync preference. With
sync.auto_interval set, a background smart sync also runs periodically.`,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Catalog: %s\n", a.cfg.API.BaseURL)
		fmt.Printf("   Database: %s\n", a.cfg.Store.Path)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")
		return runDaemon(ctx, a, nil)
	}),
}

// runDaemon starts the monitor and runs the daemon until ctx is cancelled.
func runDaemon(ctx context.Context, a *app, onSync func(offline.SmartSyncResult)) error {
	a.probe(ctx)
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start network monitor: %w", err)
	}
	defer func() {
		if err := a.monitor.Stop(); err != nil {
			a.logger.Warn("failed to stop network monitor", zap.Error(err))
		}
	}()

	d, err := daemon.New(a.manager, a.monitor, &daemon.Config{
		OnlineSettle: a.cfg.Sync.OnlineSettle,
		AutoInterval: a.cfg.Sync.AutoInterval,
		OnSync:       onSync,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	return d.Start(ctx)
}

func init() {
	proxyCmd.Flags().StringVar(&proxyListen, "listen", "", "listen address (default from proxy.listen)")
	proxyCmd.Flags().BoolVar(&proxyWithDaemon, "daemon", false, "also run the connectivity daemon")
	proxyCmd.Flags().BoolVar(&proxyOpen, "open", false, "open the app in the browser once started")

	rootCmd.AddCommand(proxyCmd, daemonCmd)
}
