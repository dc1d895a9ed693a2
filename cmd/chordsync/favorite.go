package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chordbook/chordsync/internal/ui"
)

var favoriteCmd = &cobra.Command{
	Use:     "favorite",
	Aliases: []string{"fav"},
	GroupID: "library",
	Short:   "Manage favorite songs",
	Long: `Favorites are stored locally. Changes made while offline are queued and
pushed to the catalog when the connection returns.`,
}

var favoriteAddCmd = &cobra.Command{
	Use:   "add <song-id>",
	Short: "Add a cached song to favorites",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		song, err := a.manager.GetCachedSong(ctx, id)
		if err != nil {
			return err
		}
		if song == nil {
			return fmt.Errorf("song %d is not in the offline mirror (run 'chordsync sync' first)", id)
		}
		a.probe(ctx)
		if err := a.manager.AddFavoriteOffline(ctx, *song); err != nil {
			return err
		}
		fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), song.Title)
		if !a.monitor.IsOnline() {
			fmt.Printf("   %s\n", ui.RenderMuted("offline: queued for sync"))
		}
		return nil
	}),
}

var favoriteRemoveCmd = &cobra.Command{
	Use:     "remove <song-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a song from favorites",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a.probe(ctx)
		if err := a.manager.RemoveFavoriteOffline(ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s Removed %d\n", ui.RenderPass("✓"), id)
		if !a.monitor.IsOnline() {
			fmt.Printf("   %s\n", ui.RenderMuted("offline: queued for sync"))
		}
		return nil
	}),
}

var favoriteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List favorite songs",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		favs, err := a.manager.GetCachedFavorites(ctx)
		if err != nil {
			return err
		}
		return render(favs, func() {
			if len(favs) == 0 {
				fmt.Println(ui.RenderMuted("No favorites"))
				return
			}
			for _, f := range favs {
				fmt.Printf("%6d  %s %s\n", f.ID, f.Title, ui.RenderMuted(f.KeyChord))
			}
		})
	}),
}

var favoriteQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show favorite changes waiting to be pushed",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		ops, err := a.manager.GetSyncQueue(ctx)
		if err != nil {
			return err
		}
		return render(ops, func() {
			if len(ops) == 0 {
				fmt.Println(ui.RenderMuted("Queue is empty"))
				return
			}
			for _, op := range ops {
				fmt.Printf("%4d  %-16s %s  %s\n", op.ID, op.Operation, string(op.Payload),
					ui.RenderMuted(humanize.Time(time.UnixMilli(op.Timestamp))))
			}
		})
	}),
}

var favoritePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push queued favorite changes to the catalog",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		a.probe(ctx)
		res := a.manager.ReplayPendingOperations(ctx)
		return render(res, func() {
			if !res.Success {
				fmt.Printf("%s Push failed after %d: %s\n", ui.RenderFail("✗"), res.Replayed, res.Error)
				return
			}
			fmt.Printf("%s Pushed %d, %d remaining", ui.RenderPass("✓"), res.Replayed, res.Remaining)
			if res.Reason != "" {
				fmt.Printf(" (%s)", res.Reason)
			}
			fmt.Println()
		})
	}),
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid song id %q", s)
	}
	return id, nil
}

func init() {
	favoriteCmd.AddCommand(favoriteAddCmd, favoriteRemoveCmd, favoriteListCmd, favoriteQueueCmd, favoritePushCmd)
	rootCmd.AddCommand(favoriteCmd)
}
