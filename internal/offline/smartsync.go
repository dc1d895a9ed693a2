package offline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/catalog"
	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// SyncContext says who asked for a metadata sync.
type SyncContext string

const (
	// SyncManual is a user-initiated refresh. It runs even when the
	// eligibility check says nothing changed.
	SyncManual SyncContext = "manual"

	// SyncAuto is a scheduled background refresh.
	SyncAuto SyncContext = "auto"

	// SyncOnline is triggered by a connectivity transition.
	SyncOnline SyncContext = "online"
)

// SmartSyncResult is the outcome of PerformSmartSync.
type SmartSyncResult struct {
	Success      bool        `json:"success"`
	IsFirstTime  bool        `json:"is_first_time"`
	NewCount     int         `json:"new_count"`
	UpdatedCount int         `json:"updated_count"`
	SyncedCount  int         `json:"synced_count"` // records returned by the server
	SyncType     string      `json:"sync_type,omitempty"`
	ServerInfo   *ServerInfo `json:"server_info,omitempty"`
	IsManual     bool        `json:"is_manual"`
	Reason       string      `json:"reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// PerformSmartSync refreshes the metadata mirror. Only records that are new
// or whose updated timestamp changed are written.
func (m *Manager) PerformSmartSync(ctx context.Context, sc SyncContext) (result SmartSyncResult) {
	if !m.smartSyncing.CompareAndSwap(false, true) {
		return SmartSyncResult{Success: true, Reason: ReasonAlreadyInProgress}
	}
	defer m.smartSyncing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("metadata sync panicked", zap.Any("panic", r))
			result = SmartSyncResult{Success: false, IsManual: sc == SyncManual, Error: recovered(r)}
		}
	}()

	result, err := m.smartSync(ctx, sc)
	if err != nil {
		m.logger.Warn("metadata sync failed", zap.String("context", string(sc)), zap.Error(err))
		return SmartSyncResult{Success: false, IsManual: sc == SyncManual, Reason: result.Reason, Error: err.Error()}
	}
	return result
}

func (m *Manager) smartSync(ctx context.Context, sc SyncContext) (SmartSyncResult, error) {
	manual := sc == SyncManual

	check := m.CheckSyncNeeded(ctx)
	switch {
	case check.Reason == ReasonError:
		return SmartSyncResult{Reason: check.Reason}, fmt.Errorf("eligibility check failed: %s", check.Error)
	case !check.Needed && !manual:
		return SmartSyncResult{
			Success:    true,
			SyncType:   check.Reason,
			ServerInfo: check.ServerInfo,
			Reason:     ReasonNoChanges,
		}, nil
	}

	cached, err := m.GetCachedSongs(ctx)
	if err != nil {
		return SmartSyncResult{}, err
	}
	isFirstTime := len(cached) == 0

	lastSync, err := m.GetSyncInfo(ctx, schema.ChannelLastSync)
	if err != nil {
		return SmartSyncResult{}, err
	}

	var params catalog.SyncParams
	if !manual && lastSync != nil && check.Reason == ReasonDataUpdated && !isFirstTime {
		params.Since = lastSync.LastUpdated
	}

	songs, err := m.api.Sync(ctx, params)
	if err != nil {
		return SmartSyncResult{}, fmt.Errorf("sync request failed: %w", err)
	}

	changed, newCount, updatedCount, err := classifySongs(songs, cached, isFirstTime)
	if err != nil {
		return SmartSyncResult{}, err
	}
	if len(changed) > 0 {
		if err := m.store.PutMany(ctx, store.Songs, changed); err != nil {
			return SmartSyncResult{}, fmt.Errorf("failed to cache songs: %w", err)
		}
	}

	// Without a summary there is no new baseline; the previous one stays.
	if check.ServerInfo != nil {
		if err := m.setSyncInfo(ctx, &schema.SyncInfo{
			Key:          schema.ChannelLastSync,
			LastUpdated:  check.ServerInfo.LastUpdated,
			Count:        check.ServerInfo.Count,
			SyncedCount:  len(songs),
			NewCount:     newCount,
			UpdatedCount: updatedCount,
			SyncType:     check.Reason,
			IsFirstTime:  isFirstTime,
		}); err != nil {
			return SmartSyncResult{}, err
		}
	}

	reason := ReasonSyncCompleted
	if len(changed) == 0 {
		reason = ReasonNoChanges
		if manual {
			reason = ReasonManualCompleted
		}
	}

	m.logger.Info("metadata sync complete",
		zap.String("context", string(sc)),
		zap.String("type", check.Reason),
		zap.Int("received", len(songs)),
		zap.Int("new", newCount),
		zap.Int("updated", updatedCount))

	return SmartSyncResult{
		Success:      true,
		IsFirstTime:  isFirstTime,
		NewCount:     newCount,
		UpdatedCount: updatedCount,
		SyncedCount:  len(songs),
		SyncType:     check.Reason,
		ServerInfo:   check.ServerInfo,
		IsManual:     manual,
		Reason:       reason,
	}, nil
}

// classifySongs returns the records that must be written and how many of
// them are new versus updated.
//
// On a first sync every record is new. Otherwise a record missing from the
// cache is new only if the server never edited it (created == updated); a
// missing record that has been edited, or a cached record with a different
// updated timestamp, counts as updated. Unchanged records are not returned.
func classifySongs(songs, cached []schema.Song, isFirstTime bool) ([]store.Record, int, int, error) {
	known := make(map[int64]string, len(cached))
	for _, s := range cached {
		known[s.ID] = s.UpdatedAt
	}

	var changed []store.Record
	var newCount, updatedCount int
	for i := range songs {
		s := &songs[i]
		if s.ID <= 0 {
			// Unkeyable.
			continue
		}

		cachedUpdated, ok := known[s.ID]
		switch {
		case isFirstTime:
			newCount++
		case !ok && s.IsUnmodified():
			newCount++
		case !ok:
			updatedCount++
		case cachedUpdated != s.UpdatedAt:
			updatedCount++
		default:
			continue
		}

		rec, err := store.NewRecord(s.Key(), s)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to encode song %d: %w", s.ID, err)
		}
		changed = append(changed, rec)
	}
	return changed, newCount, updatedCount, nil
}
