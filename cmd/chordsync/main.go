// Command chordsync keeps an offline mirror of the song catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	outputFmt  string
)

var rootCmd = &cobra.Command{
	Use:   "chordsync",
	Short: "Offline song catalog sync",
	Long: `chordsync mirrors the song catalog into a local database so songs and
lyrics stay available without a network connection.

It also runs a local proxy in front of the web app that keeps versioned
copies of the app's assets, and a daemon that syncs when connectivity
returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./chordsync.yaml or ~/.config/chordsync/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "library", Title: "Library:"},
		&cobra.Group{ID: "cache", Title: "App cache:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
