package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/ui"
)

var songsFilter string

var songsCmd = &cobra.Command{
	Use:     "songs",
	GroupID: "library",
	Short:   "List songs in the offline mirror",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		songs, err := a.manager.GetCachedSongs(ctx)
		if err != nil {
			return err
		}
		if songsFilter != "" {
			needle := strings.ToLower(songsFilter)
			filtered := songs[:0]
			for _, s := range songs {
				if strings.Contains(strings.ToLower(s.Title), needle) || strings.Contains(strings.ToLower(s.FirstLyric), needle) {
					filtered = append(filtered, s)
				}
			}
			songs = filtered
		}
		return render(songs, func() {
			if len(songs) == 0 {
				fmt.Println(ui.RenderMuted("No songs"))
				return
			}
			for _, s := range songs {
				fmt.Printf("%6d  %s %s\n", s.ID, s.Title, ui.RenderMuted(s.KeyChord))
			}
		})
	}),
}

var showCmd = &cobra.Command{
	Use:     "show <song-id>",
	GroupID: "library",
	Short:   "Print a song's lyrics from the offline mirror",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		detail, err := a.manager.GetCachedSongDetail(ctx, id)
		if err != nil {
			return err
		}
		if detail == nil {
			return fmt.Errorf("no lyrics cached for song %d (run 'chordsync lyrics %d')", id, id)
		}
		if meta, _ := a.manager.GetCachedSong(ctx, id); meta != nil && detail.IsStale(meta) {
			fmt.Printf("%s Cached lyrics are out of date\n\n", ui.RenderWarn("⚠"))
		}
		return render(detail, func() { printDetail(detail) })
	}),
}

func printDetail(d *schema.SongDetail) {
	fmt.Println(ui.RenderHeader(d.Title))
	meta := []string{}
	if d.KeyChord != "" {
		meta = append(meta, "Key "+d.KeyChord)
	}
	if d.TypeName != "" {
		meta = append(meta, d.TypeName)
	}
	if d.TopicName != nil && *d.TopicName != "" {
		meta = append(meta, *d.TopicName)
	}
	if d.Tempo != nil {
		meta = append(meta, fmt.Sprintf("%d bpm", *d.Tempo))
	}
	if len(meta) > 0 {
		fmt.Println(ui.RenderMuted(strings.Join(meta, " · ")))
	}
	fmt.Println()
	fmt.Println(d.Lyric)
}

func init() {
	songsCmd.Flags().StringVarP(&songsFilter, "filter", "f", "", "only songs whose title or first line contains this text")
	rootCmd.AddCommand(songsCmd, showCmd)
}
