package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/offline"
	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
	"github.com/chordbook/chordsync/internal/ui"
)

var (
	syncAuto bool
	clearYes bool
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync song metadata from the catalog",
	Long: `Refresh the local song list from the remote catalog.

A manual sync (the default) always fetches the full list. With --auto the
catalog summary is checked first and nothing is fetched when the mirror is
already up to date. Only new or changed songs are written either way.`,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		sc := offline.SyncManual
		if syncAuto {
			sc = offline.SyncAuto
		}

		start := time.Now()
		res := a.manager.PerformSmartSync(ctx, sc)
		return render(res, func() {
			if !res.Success {
				fmt.Printf("%s Sync failed: %s\n", ui.RenderFail("✗"), orReason(res.Error, res.Reason))
				return
			}
			fmt.Printf("%s Sync complete in %v (%s)\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), res.Reason)
			fmt.Printf("   New: %d\n", res.NewCount)
			fmt.Printf("   Updated: %d\n", res.UpdatedCount)
			if res.ServerInfo != nil {
				fmt.Printf("   Catalog: %d songs\n", res.ServerInfo.Count)
			}
		})
	}),
}

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "sync",
	Short:   "Check whether a sync is needed",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		check := a.manager.CheckSyncNeeded(ctx)
		return render(check, func() {
			switch {
			case check.Error != "":
				fmt.Printf("%s Could not check: %s\n", ui.RenderFail("✗"), check.Error)
			case check.Needed:
				fmt.Printf("%s Sync needed (%s)\n", ui.RenderWarn("⚠"), check.Reason)
			default:
				fmt.Printf("%s Up to date\n", ui.RenderPass("✓"))
			}
			fmt.Printf("   Local: %d songs\n", check.LocalInfo.Count)
			if check.ServerInfo != nil {
				fmt.Printf("   Catalog: %d songs (updated %s)\n", check.ServerInfo.Count, check.ServerInfo.LastUpdated)
			}
		})
	}),
}

var lyricsCmd = &cobra.Command{
	Use:     "lyrics [song-id...]",
	GroupID: "sync",
	Short:   "Download lyrics for offline use",
	Long: `Download full song details for every song whose lyrics are missing or out
of date. Song ids given as arguments are refetched even when current.

Batch size adapts to the connection and device.`,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		a.probe(ctx)
		quiet := outputFmt != "text"

		res := a.manager.PerformFullLyricsSync(ctx, func(p offline.Progress) {
			if !quiet {
				fmt.Printf("\r   %d/%d songs", p.Completed, p.Total)
			}
		}, ids)
		if !quiet && res.EligibleCount > 0 {
			fmt.Println()
		}
		return render(res, func() {
			if !res.Success {
				fmt.Printf("%s Lyrics sync failed: %s\n", ui.RenderFail("✗"), orReason(res.Error, res.Reason))
				return
			}
			if res.Reason != "" {
				fmt.Printf("%s Nothing to do (%s)\n", ui.RenderPass("✓"), res.Reason)
				return
			}
			fmt.Printf("%s Lyrics synced: %d of %d\n", ui.RenderPass("✓"), res.SyncedCount, res.EligibleCount)
			if res.FailedBatches > 0 {
				fmt.Printf("   %s %d batches failed, %d songs skipped\n", ui.RenderWarn("⚠"), res.FailedBatches, res.SkippedCount)
			}
		})
	}),
}

// statusReport is the machine-readable form of the status command.
type statusReport struct {
	Database   string                   `json:"database"`
	Degraded   bool                     `json:"degraded"`
	StoreError string                   `json:"store_error,omitempty"`
	Counts     map[store.Collection]int `json:"counts"`
	LastSync   *schema.SyncInfo         `json:"last_sync,omitempty"`
	LastLyrics *schema.SyncInfo         `json:"last_lyrics_sync,omitempty"`
	Connection network.ConnectionInfo   `json:"connection"`
	DataUsage  network.DataUsage        `json:"estimated_sync_size"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the offline mirror status",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		a.probe(ctx)
		counts, err := a.manager.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		last, _ := a.manager.GetSyncInfo(ctx, schema.ChannelLastSync)
		lyrics, _ := a.manager.GetSyncInfo(ctx, schema.ChannelFullLyricsSync)

		report := statusReport{
			Database:   a.cfg.Store.Path,
			Degraded:   a.store.Degraded(ctx),
			Counts:     counts,
			LastSync:   last,
			LastLyrics: lyrics,
			Connection: a.monitor.ConnectionInfo(),
			DataUsage:  network.EstimateDataUsage(counts[store.Songs]),
		}
		if err := a.store.OpenErr(); err != nil {
			report.StoreError = err.Error()
		}
		return render(report, func() {
			fmt.Printf("\n%s\n\n", ui.RenderHeader("Offline Mirror Status"))
			fmt.Printf("Location: %s\n", report.Database)
			if report.Degraded {
				fmt.Printf("%s Storage unavailable, nothing is persisted\n", ui.RenderWarn("⚠"))
				if report.StoreError != "" {
					fmt.Printf("   %s\n", ui.RenderMuted(report.StoreError))
				}
			}
			fmt.Printf("Songs: %d\n", counts[store.Songs])
			fmt.Printf("Lyrics: %d\n", counts[store.SongDetails])
			fmt.Printf("Favorites: %d\n", counts[store.Favorites])
			fmt.Printf("Pending changes: %d\n", counts[store.PendingOperations])
			if last != nil {
				fmt.Printf("Last sync: %s (%s, %d songs)\n", humanize.Time(time.UnixMilli(last.Timestamp)), last.SyncType, last.SyncedCount)
			} else {
				fmt.Printf("Last sync: %s\n", ui.RenderMuted("never"))
			}
			if lyrics != nil {
				fmt.Printf("Last lyrics sync: %s\n", humanize.Time(time.UnixMilli(lyrics.Timestamp)))
			}
			conn := report.Connection
			fmt.Printf("Connection: %s %s (preference %s)\n", ui.Status(conn.IsOnline), conn.ConnectionName, conn.SyncPreference)
			fmt.Printf("Full sync size: about %s\n", report.DataUsage.Formatted)
			fmt.Println()
		})
	}),
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "sync",
	Short:   "Delete all offline data",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if !clearYes {
			ok, err := ui.Confirm("Delete all offline data?", "Songs, lyrics, favorites and pending changes are removed.", false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(os.Stderr, "Aborted (use --yes to skip the prompt)")
				return nil
			}
		}
		if err := a.manager.ClearAllData(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Offline data cleared\n", ui.RenderPass("✓"))
		return nil
	}),
}

// orReason prefers err, then reason.
func orReason(err, reason string) string {
	if err != "" {
		return err
	}
	return reason
}

func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid song id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func init() {
	syncCmd.Flags().BoolVar(&syncAuto, "auto", false, "skip the fetch when the catalog has not changed")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(syncCmd, checkCmd, lyricsCmd, statusCmd, clearCmd)
}
