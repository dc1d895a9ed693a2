package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/ui"
)

var preferenceCmd = &cobra.Command{
	Use:     "preference [always|wifi-only]",
	GroupID: "sync",
	Short:   "Show or set when syncing is allowed",
	Long: `Show or set the sync preference.

  always     sync on any connection
  wifi-only  do not sync on metered (cellular) connections

Without an argument in a terminal, a picker is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		current := a.monitor.SyncPreference()

		var choice string
		if len(args) == 1 {
			choice = args[0]
		} else if ui.IsInteractive() && outputFmt == "text" {
			picked, err := ui.Select("Sync songs on", []ui.Option{
				{Label: "Any connection", Value: string(network.PreferenceAlways)},
				{Label: "WiFi only", Value: string(network.PreferenceWifiOnly)},
			}, string(current))
			if err != nil {
				return err
			}
			choice = picked
		}

		if choice != "" && choice != string(current) {
			if err := a.monitor.SetSyncPreference(choice); err != nil {
				return err
			}
		}

		info := a.monitor.ConnectionInfo()
		return render(info, func() {
			fmt.Printf("Sync preference: %s\n", ui.RenderAccent(string(info.SyncPreference)))
		})
	}),
}

func init() {
	rootCmd.AddCommand(preferenceCmd)
}
