package offline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// GetCachedSongs returns every cached metadata record. Undecodable records
// are logged and skipped.
func (m *Manager) GetCachedSongs(ctx context.Context) ([]schema.Song, error) {
	records, err := m.store.GetAll(ctx, store.Songs)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached songs: %w", err)
	}
	songs := make([]schema.Song, 0, len(records))
	for _, r := range records {
		s, err := schema.DecodeSong(r.Value)
		if err != nil {
			m.logger.Warn("skipping corrupt song record", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		songs = append(songs, *s)
	}
	return songs, nil
}

// GetCachedSong returns one metadata record, or nil if it is not cached.
func (m *Manager) GetCachedSong(ctx context.Context, id int64) (*schema.Song, error) {
	raw, ok, err := m.store.Get(ctx, store.Songs, schema.SongKey(id))
	if err != nil || !ok {
		return nil, err
	}
	return schema.DecodeSong(raw)
}

// GetCachedSongDetail returns one detail record, or nil if it is not cached.
func (m *Manager) GetCachedSongDetail(ctx context.Context, id int64) (*schema.SongDetail, error) {
	raw, ok, err := m.store.Get(ctx, store.SongDetails, schema.SongKey(id))
	if err != nil || !ok {
		return nil, err
	}
	return schema.DecodeSongDetail(raw)
}

// GetAllCachedSongDetails returns every cached detail record.
func (m *Manager) GetAllCachedSongDetails(ctx context.Context) ([]schema.SongDetail, error) {
	records, err := m.store.GetAll(ctx, store.SongDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached details: %w", err)
	}
	details := make([]schema.SongDetail, 0, len(records))
	for _, r := range records {
		d, err := schema.DecodeSongDetail(r.Value)
		if err != nil {
			m.logger.Warn("skipping corrupt detail record", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		details = append(details, *d)
	}
	return details, nil
}

// GetSyncInfo returns the record for channel, or nil if none was written.
func (m *Manager) GetSyncInfo(ctx context.Context, channel string) (*schema.SyncInfo, error) {
	raw, ok, err := m.store.Get(ctx, store.SyncInfo, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync info %s: %w", channel, err)
	}
	if !ok {
		return nil, nil
	}
	return schema.DecodeSyncInfo(raw)
}

// setSyncInfo replaces the record for info.Key.
func (m *Manager) setSyncInfo(ctx context.Context, info *schema.SyncInfo) error {
	info.Timestamp = m.nowMillis()
	rec, err := store.NewRecord(info.Key, info)
	if err != nil {
		return fmt.Errorf("failed to encode sync info: %w", err)
	}
	if _, err := m.store.Put(ctx, store.SyncInfo, rec.Key, rec.Value); err != nil {
		return fmt.Errorf("failed to write sync info %s: %w", info.Key, err)
	}
	return nil
}

// Stats returns the record count of every collection.
func (m *Manager) Stats(ctx context.Context) (map[store.Collection]int, error) {
	stats := make(map[store.Collection]int, len(store.Collections))
	for _, c := range store.Collections {
		n, err := m.store.Count(ctx, c)
		if err != nil {
			return nil, err
		}
		stats[c] = n
	}
	return stats, nil
}

// ClearAllData clears every collection and then verifies each is empty.
// Leftover records are logged at error level and reported as
// ErrWipeIncomplete.
func (m *Manager) ClearAllData(ctx context.Context) error {
	before, err := m.Stats(ctx)
	if err == nil {
		m.logger.Info("clearing local data",
			zap.Int("songs", before[store.Songs]),
			zap.Int("details", before[store.SongDetails]))
	}

	var errs []error
	for _, c := range store.Collections {
		if err := m.store.Clear(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear %s: %w", c, err))
		}
	}

	remaining := map[store.Collection]int{}
	for _, c := range store.Collections {
		records, err := m.store.GetAll(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to verify %s: %w", c, err))
			continue
		}
		if len(records) > 0 {
			remaining[c] = len(records)
		}
	}

	if len(remaining) > 0 {
		fields := make([]zap.Field, 0, len(remaining))
		for c, n := range remaining {
			fields = append(fields, zap.Int(string(c), n))
		}
		m.logger.Error("local data not fully cleared", fields...)
		errs = append(errs, fmt.Errorf("%w: %v", ErrWipeIncomplete, remaining))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	m.logger.Info("local data cleared")
	return nil
}
