package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/catalog"
	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// AddFavoriteOffline stores song as a favorite. While offline it also
// queues the change for replay.
func (m *Manager) AddFavoriteOffline(ctx context.Context, song schema.Song) error {
	if err := song.Validate(); err != nil {
		return fmt.Errorf("invalid favorite: %w", err)
	}
	payload, err := json.Marshal(song)
	if err != nil {
		return fmt.Errorf("failed to encode favorite: %w", err)
	}
	if _, err := m.store.Put(ctx, store.Favorites, song.Key(), payload); err != nil {
		return fmt.Errorf("failed to store favorite: %w", err)
	}
	return m.queueIfOffline(ctx, schema.OpAddFavorite, payload)
}

// RemoveFavoriteOffline removes a favorite. While offline it also queues
// the change for replay.
func (m *Manager) RemoveFavoriteOffline(ctx context.Context, id int64) error {
	if err := m.store.Delete(ctx, store.Favorites, schema.SongKey(id)); err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	payload, err := json.Marshal(struct {
		ID int64 `json:"id"`
	}{id})
	if err != nil {
		return fmt.Errorf("failed to encode favorite: %w", err)
	}
	return m.queueIfOffline(ctx, schema.OpRemoveFavorite, payload)
}

func (m *Manager) queueIfOffline(ctx context.Context, op schema.OperationType, payload json.RawMessage) error {
	if m.policy.State().Online {
		return nil
	}
	q := schema.QueuedOperation{Operation: op, Payload: payload, Timestamp: m.nowMillis()}
	if err := q.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode queued operation: %w", err)
	}
	if _, err := m.store.Put(ctx, store.PendingOperations, "", data); err != nil {
		return fmt.Errorf("failed to queue operation: %w", err)
	}
	m.logger.Debug("queued offline operation", zap.String("operation", string(op)))
	return nil
}

// GetCachedFavorites returns every favorite.
func (m *Manager) GetCachedFavorites(ctx context.Context) ([]schema.Favorite, error) {
	records, err := m.store.GetAll(ctx, store.Favorites)
	if err != nil {
		return nil, fmt.Errorf("failed to read favorites: %w", err)
	}
	favorites := make([]schema.Favorite, 0, len(records))
	for _, r := range records {
		s, err := schema.DecodeSong(r.Value)
		if err != nil {
			m.logger.Warn("skipping corrupt favorite", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		favorites = append(favorites, *s)
	}
	return favorites, nil
}

// GetSyncQueue returns queued operations oldest first, with IDs set.
func (m *Manager) GetSyncQueue(ctx context.Context) ([]schema.QueuedOperation, error) {
	records, err := m.store.GetAll(ctx, store.PendingOperations)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	ops := make([]schema.QueuedOperation, 0, len(records))
	for _, r := range records {
		var op schema.QueuedOperation
		if err := json.Unmarshal(r.Value, &op); err != nil {
			m.logger.Warn("skipping corrupt queued operation", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		id, err := schema.ParseSongKey(r.Key)
		if err != nil {
			continue
		}
		op.ID = id
		ops = append(ops, op)
	}
	return ops, nil
}

// ReplayResult is the outcome of ReplayPendingOperations.
type ReplayResult struct {
	Success   bool   `json:"success"`
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReplayPendingOperations pushes queued favorite changes to the catalog in
// order, deleting each one the server accepts. It stops at the first
// failure so ordering is preserved. Without a favorites endpoint the queue
// is left intact.
func (m *Manager) ReplayPendingOperations(ctx context.Context) (result ReplayResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ReplayResult{Success: false, Error: recovered(r)}
		}
	}()

	ops, err := m.GetSyncQueue(ctx)
	if err != nil {
		return ReplayResult{Error: err.Error()}
	}
	if len(ops) == 0 {
		return ReplayResult{Success: true, Reason: ReasonEmptyQueue}
	}
	if !m.policy.State().Online {
		return ReplayResult{Success: true, Remaining: len(ops), Reason: ReasonOffline}
	}

	for i, op := range ops {
		if err := m.api.PushFavorite(ctx, op); err != nil {
			remaining := len(ops) - i
			if errors.Is(err, catalog.ErrNoFavoritesEndpoint) {
				return ReplayResult{Success: true, Replayed: i, Remaining: remaining, Reason: ReasonNoRemoteEndpoint}
			}
			m.logger.Warn("replay stopped", zap.Int64("operation_id", op.ID), zap.Error(err))
			return ReplayResult{Replayed: i, Remaining: remaining, Error: err.Error()}
		}
		if err := m.store.Delete(ctx, store.PendingOperations, schema.SongKey(op.ID)); err != nil {
			return ReplayResult{Replayed: i + 1, Remaining: len(ops) - i - 1, Error: err.Error()}
		}
	}

	m.logger.Info("replayed offline operations", zap.Int("count", len(ops)))
	return ReplayResult{Success: true, Replayed: len(ops)}
}
