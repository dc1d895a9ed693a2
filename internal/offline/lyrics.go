package offline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// Progress is reported after each successful content-sync batch.
type Progress struct {
	Completed        int `json:"completed"`
	Total            int `json:"total"`
	CurrentBatchSize int `json:"current_batch_size"`
}

// LyricsSyncResult is the outcome of PerformFullLyricsSync.
type LyricsSyncResult struct {
	Success       bool   `json:"success"`
	TotalSongs    int    `json:"total_songs"`
	EligibleCount int    `json:"eligible_count"`
	SyncedCount   int    `json:"synced_count"`
	SkippedCount  int    `json:"skipped_count"`
	FailedBatches int    `json:"failed_batches"`
	BatchSize     int    `json:"batch_size,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PerformFullLyricsSync downloads detail records for every song that lacks
// one or whose detail is stale, plus any song in forceIDs.
//
// Batches run one at a time, spaced by at least the configured batch
// delay. A failed batch is logged and skipped. A batch's old details are
// replaced only after its request succeeds, in one transaction.
func (m *Manager) PerformFullLyricsSync(ctx context.Context, progress func(Progress), forceIDs []int64) (result LyricsSyncResult) {
	if !m.lyricsSyncing.CompareAndSwap(false, true) {
		return LyricsSyncResult{Success: true, Reason: ReasonAlreadyInProgress}
	}
	defer m.lyricsSyncing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("content sync panicked", zap.Any("panic", r))
			result = LyricsSyncResult{Success: false, Error: recovered(r)}
		}
	}()

	result, err := m.lyricsSync(ctx, progress, forceIDs)
	if err != nil {
		m.logger.Warn("content sync failed", zap.Error(err))
		result.Success = false
		result.Error = err.Error()
	}
	return result
}

func (m *Manager) lyricsSync(ctx context.Context, progress func(Progress), forceIDs []int64) (LyricsSyncResult, error) {
	songs, err := m.GetCachedSongs(ctx)
	if err != nil {
		return LyricsSyncResult{}, err
	}
	total := len(songs)
	if total == 0 {
		return LyricsSyncResult{Success: true}, nil
	}

	details, err := m.GetAllCachedSongDetails(ctx)
	if err != nil {
		return LyricsSyncResult{}, err
	}

	forced := make(map[int64]bool, len(forceIDs))
	for _, id := range forceIDs {
		forced[id] = true
	}
	eligible := eligibleForContent(songs, details, forced)
	if len(eligible) == 0 {
		return LyricsSyncResult{Success: true, TotalSongs: total, Reason: ReasonAllCached}, nil
	}

	size := m.batchSize()
	result := LyricsSyncResult{
		TotalSongs:    total,
		EligibleCount: len(eligible),
		BatchSize:     size,
	}

	m.logger.Info("starting content sync",
		zap.Int("eligible", len(eligible)),
		zap.Int("total", total),
		zap.Int("batch_size", size))

	limit := rate.Inf
	if m.options.BatchDelay > 0 {
		limit = rate.Every(m.options.BatchDelay)
	}
	throttle := rate.NewLimiter(limit, 1)

	for start := 0; start < len(eligible); start += size {
		if err := throttle.Wait(ctx); err != nil {
			result.SkippedCount = total - result.SyncedCount
			return result, fmt.Errorf("content sync interrupted: %w", err)
		}

		end := start + size
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		n, err := m.syncDetailBatch(ctx, batch, forced)
		if err != nil {
			result.FailedBatches++
			m.logger.Warn("content batch failed, continuing",
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}

		result.SyncedCount += n
		if progress != nil {
			progress(Progress{Completed: end, Total: len(eligible), CurrentBatchSize: n})
		}
	}

	result.SkippedCount = total - result.SyncedCount
	if err := m.setSyncInfo(ctx, &schema.SyncInfo{
		Key:          schema.ChannelFullLyricsSync,
		CompletedAt:  m.nowMillis(),
		TotalSongs:   total,
		SyncedCount:  result.SyncedCount,
		SkippedCount: result.SkippedCount,
	}); err != nil {
		return result, err
	}

	m.logger.Info("content sync complete",
		zap.Int("synced", result.SyncedCount),
		zap.Int("failed_batches", result.FailedBatches))

	result.Success = true
	result.Reason = ReasonSyncCompleted
	return result, nil
}

// eligibleForContent returns the ids needing a detail download, in catalog
// order. A detail without an updated timestamp is kept as-is.
func eligibleForContent(songs []schema.Song, details []schema.SongDetail, forced map[int64]bool) []int64 {
	have := make(map[int64]string, len(details))
	for _, d := range details {
		have[d.ID] = d.UpdatedAt
	}

	var ids []int64
	for _, s := range songs {
		if forced[s.ID] {
			ids = append(ids, s.ID)
			continue
		}
		updated, ok := have[s.ID]
		if !ok {
			ids = append(ids, s.ID)
			continue
		}
		if s.UpdatedAt != "" && updated != "" && s.UpdatedAt != updated {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// syncDetailBatch fetches and stores one batch, returning how many details
// were stored. An empty response leaves existing details untouched.
func (m *Manager) syncDetailBatch(ctx context.Context, ids []int64, forced map[int64]bool) (int, error) {
	var force int64
	for _, id := range ids {
		if forced[id] {
			force = m.nowMillis()
			break
		}
	}

	fresh, err := m.api.SyncDetails(ctx, ids, force)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	cachedAt := m.nowMillis()
	records := make([]store.Record, 0, len(fresh))
	for i := range fresh {
		d := &fresh[i]
		d.CachedAt = cachedAt
		rec, err := store.NewRecord(d.Key(), d)
		if err != nil {
			return 0, fmt.Errorf("failed to encode detail %d: %w", d.ID, err)
		}
		records = append(records, rec)
	}

	stale := make([]string, len(ids))
	for i, id := range ids {
		stale[i] = schema.SongKey(id)
	}
	if err := m.store.ReplaceMany(ctx, store.SongDetails, stale, records); err != nil {
		return 0, fmt.Errorf("failed to replace details: %w", err)
	}
	return len(records), nil
}
