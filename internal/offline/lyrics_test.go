package offline

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

func TestBatchSize(t *testing.T) {
	tests := []struct {
		name string
		in   CapacityInput
		want int
	}{
		{"wifi big device", CapacityInput{Class: network.ClassWifi, Parallelism: 8, MemoryGB: 8}, 50},
		{"wifi mid device", CapacityInput{Class: network.ClassWifi, Parallelism: 4, MemoryGB: 4}, 30},
		{"wifi small device", CapacityInput{Class: network.ClassWifi, Parallelism: 2, MemoryGB: 2}, 20},
		{"wifi missing hints", CapacityInput{Class: network.ClassWifi}, 30},
		{"wifi lots of memory few cpus", CapacityInput{Class: network.ClassWifi, Parallelism: 4, MemoryGB: 16}, 30},
		{"4g", CapacityInput{Class: network.ClassMetered, EffectiveType: network.Effective4G, MemoryGB: 4}, 20},
		{"lte low memory", CapacityInput{Class: network.ClassMetered, EffectiveType: network.EffectiveLTE, MemoryGB: 2}, 15},
		{"metered unreported", CapacityInput{Class: network.ClassMetered}, 20},
		{"3g", CapacityInput{Class: network.ClassMetered, EffectiveType: network.Effective3G}, 10},
		{"2g", CapacityInput{Class: network.ClassMetered, EffectiveType: network.Effective2G}, 5},
		{"slow-2g", CapacityInput{Class: network.ClassMetered, EffectiveType: network.EffectiveSlow2G}, 5},
		{"unknown", CapacityInput{Class: network.ClassUnknown}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BatchSize(tt.in); got != tt.want {
				t.Errorf("BatchSize(%+v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

// seedDetails stores details for the given songs as they are now.
func seedDetails(t *testing.T, env *testEnv, songs []schema.Song) {
	t.Helper()
	var records []store.Record
	for _, s := range songs {
		rec, err := store.NewRecord(s.Key(), schema.SongDetail{Song: s, Lyric: "old"})
		if err != nil {
			t.Fatalf("NewRecord() failed: %v", err)
		}
		records = append(records, rec)
	}
	if err := env.store.PutMany(context.Background(), store.SongDetails, records); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}
}

func allRequested(calls [][]int64) []int64 {
	var ids []int64
	for _, c := range calls {
		ids = append(ids, c...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestPerformFullLyricsSync_EmptyCatalog(t *testing.T) {
	env := newTestEnv(t)

	result := env.manager.PerformFullLyricsSync(context.Background(), nil, nil)
	if !result.Success || result.SyncedCount != 0 {
		t.Errorf("PerformFullLyricsSync() = %+v, want success with 0 synced", result)
	}
	if len(env.api.detailCalls) != 0 {
		t.Errorf("detail requests on empty catalog: %d", len(env.api.detailCalls))
	}
}

func TestPerformFullLyricsSync_OnlyMissingAndStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.setCatalog(makeSongs(5), "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)

	// 1 and 2 are fresh, 3 is stale, 4 and 5 are missing.
	cached := makeSongs(3)
	cached[2].UpdatedAt = "2023-12-31 00:00:00"
	seedDetails(t, env, cached)

	result := env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if !result.Success {
		t.Fatalf("PerformFullLyricsSync() failed: %+v", result)
	}
	got := allRequested(env.api.detailCalls)
	want := []int64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("requested %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("requested %v, want %v", got, want)
		}
	}
	if result.SyncedCount != 3 || result.SkippedCount != 2 || result.TotalSongs != 5 {
		t.Errorf("result = %+v, want synced 3 skipped 2 total 5", result)
	}
	if env.api.detailForces[0] != 0 {
		t.Errorf("force = %d on unforced batch", env.api.detailForces[0])
	}

	d, err := env.manager.GetCachedSongDetail(ctx, 3)
	if err != nil || d == nil {
		t.Fatalf("GetCachedSongDetail(3) = %v, %v", d, err)
	}
	if d.UpdatedAt != "2024-01-01 00:00:00" || d.Lyric == "old" {
		t.Errorf("stale detail not replaced: %+v", d)
	}
	if d.CachedAt == 0 {
		t.Error("CachedAt not stamped")
	}

	info, err := env.manager.GetSyncInfo(ctx, schema.ChannelFullLyricsSync)
	if err != nil || info == nil {
		t.Fatalf("GetSyncInfo() = %v, %v", info, err)
	}
	if info.TotalSongs != 5 || info.SyncedCount != 3 || info.SkippedCount != 2 {
		t.Errorf("sync info = %+v", info)
	}
}

func TestPerformFullLyricsSync_AllCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	songs := makeSongs(4)
	env.api.setCatalog(songs, "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	seedDetails(t, env, songs)

	result := env.manager.PerformFullLyricsSync(ctx, nil, []int64{999})
	if !result.Success || result.Reason != ReasonAllCached {
		t.Errorf("PerformFullLyricsSync() = %+v, want all_cached", result)
	}
	if len(env.api.detailCalls) != 0 {
		t.Errorf("unknown forced id triggered %d requests", len(env.api.detailCalls))
	}
}

func TestPerformFullLyricsSync_ForcedIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	songs := makeSongs(4)
	env.api.setCatalog(songs, "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	seedDetails(t, env, songs)

	result := env.manager.PerformFullLyricsSync(ctx, nil, []int64{2})
	if !result.Success || result.SyncedCount != 1 {
		t.Fatalf("PerformFullLyricsSync() = %+v, want one forced detail", result)
	}
	if len(env.api.detailCalls) != 1 || env.api.detailCalls[0][0] != 2 {
		t.Errorf("detail requests = %v, want [[2]]", env.api.detailCalls)
	}
	if env.api.detailForces[0] == 0 {
		t.Error("forced batch sent without force")
	}
}

func TestPerformFullLyricsSync_FailedBatchContinues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.policy.set(network.State{Online: true, Class: network.ClassMetered, EffectiveType: network.Effective2G, Preference: network.PreferenceAlways})
	env.api.setCatalog(makeSongs(12), "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	env.api.failDetailCall = map[int]bool{2: true}

	var reports []Progress
	result := env.manager.PerformFullLyricsSync(ctx, func(p Progress) { reports = append(reports, p) }, nil)
	if !result.Success {
		t.Fatalf("PerformFullLyricsSync() failed: %+v", result)
	}
	if result.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", result.BatchSize)
	}
	if len(env.api.detailCalls) != 3 {
		t.Errorf("detail requests = %d, want 3", len(env.api.detailCalls))
	}
	if result.FailedBatches != 1 || result.SyncedCount != 7 || result.SkippedCount != 5 {
		t.Errorf("result = %+v, want 1 failed batch, 7 synced, 5 skipped", result)
	}
	if len(reports) != 2 {
		t.Fatalf("progress reports = %d, want 2", len(reports))
	}
	if reports[1].Completed != 12 || reports[1].Total != 12 || reports[1].CurrentBatchSize != 2 {
		t.Errorf("last progress = %+v", reports[1])
	}

	// The failed batch is picked up on the next run.
	env.api.failDetailCall = nil
	env.api.detailCalls = nil
	result = env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if result.SyncedCount != 5 {
		t.Errorf("retry synced %d, want 5", result.SyncedCount)
	}
}

func TestPerformFullLyricsSync_EmptyResponseKeepsDetails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	songs := makeSongs(2)
	env.api.setCatalog(songs, "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	seedDetails(t, env, songs)
	env.api.emptyDetails = true

	result := env.manager.PerformFullLyricsSync(ctx, nil, []int64{1, 2})
	if !result.Success || result.SyncedCount != 0 {
		t.Errorf("PerformFullLyricsSync() = %+v", result)
	}
	if n, _ := env.store.Count(ctx, store.SongDetails); n != 2 {
		t.Errorf("details = %d after empty response, want 2", n)
	}
}

func TestPerformFullLyricsSync_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	env.api.setCatalog(makeSongs(3), "T1")
	env.manager.PerformSmartSync(context.Background(), SyncAuto)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if result.Success {
		t.Errorf("PerformFullLyricsSync() succeeded with canceled context")
	}
	if _, lyrics, _ := env.manager.SyncInProgress(); lyrics {
		t.Error("content guard still held")
	}
}

func TestPerformFullLyricsSync_SecondCallWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.setCatalog(makeSongs(4), "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	env.api.detailEntered = make(chan struct{})
	env.api.detailRelease = make(chan struct{})
	entered := env.api.detailEntered

	done := make(chan LyricsSyncResult)
	go func() { done <- env.manager.PerformFullLyricsSync(ctx, nil, nil) }()

	<-entered
	if _, lyrics, _ := env.manager.SyncInProgress(); !lyrics {
		t.Error("SyncInProgress() reports no content sync while one is running")
	}

	second := env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if !second.Success || second.Reason != ReasonAlreadyInProgress {
		t.Errorf("second call = %+v, want already_in_progress", second)
	}

	close(env.api.detailRelease)
	first := <-done
	if !first.Success || first.SyncedCount != 4 {
		t.Errorf("first call = %+v, want 4 synced", first)
	}
	if got := allRequested(env.api.detailCalls); len(got) != 4 {
		t.Errorf("requested %v, want each song once", got)
	}
	if _, lyrics, _ := env.manager.SyncInProgress(); lyrics {
		t.Error("content guard still held after completion")
	}
}

func TestPerformFullLyricsSync_PanicReleasesGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.api.setCatalog(makeSongs(3), "T1")
	env.manager.PerformSmartSync(ctx, SyncAuto)
	env.api.detailPanic = true

	result := env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if result.Success {
		t.Fatal("PerformFullLyricsSync() succeeded despite panic")
	}
	if !strings.Contains(result.Error, "details exploded") {
		t.Errorf("Error = %q", result.Error)
	}
	if _, lyrics, _ := env.manager.SyncInProgress(); lyrics {
		t.Fatal("content guard still held after panic")
	}

	env.api.detailPanic = false
	result = env.manager.PerformFullLyricsSync(ctx, nil, nil)
	if !result.Success || result.Reason == ReasonAlreadyInProgress || result.SyncedCount != 3 {
		t.Errorf("retry = %+v, want 3 synced", result)
	}
}
