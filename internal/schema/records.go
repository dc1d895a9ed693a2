package schema

import (
	"encoding/json"
	"fmt"
)

// OperationType names a favorite change recorded while offline.
type OperationType string

const (
	OpAddFavorite    OperationType = "ADD_FAVORITE"
	OpRemoveFavorite OperationType = "REMOVE_FAVORITE"
)

// IsValid reports whether t is a known operation.
func (t OperationType) IsValid() bool {
	return t == OpAddFavorite || t == OpRemoveFavorite
}

// QueuedOperation is one entry in the pending-operations outbox.
// ID is assigned by the store when the operation is appended.
type QueuedOperation struct {
	ID        int64           `json:"id,omitempty"`
	Operation OperationType   `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Validate checks the operation before it is queued.
func (q *QueuedOperation) Validate() error {
	if !q.Operation.IsValid() {
		return fmt.Errorf("invalid operation %q", q.Operation)
	}
	if len(q.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// Sync channels recorded in SyncInfo.
const (
	ChannelLastSync       = "lastSync"
	ChannelFullLyricsSync = "fullLyricsSync"
)

// Sync types recorded on the lastSync channel.
const (
	SyncTypeManual = "manual"
	SyncTypeAuto   = "auto"
)

// SyncInfo is the bookkeeping record for one sync channel. Every write
// replaces the whole record.
type SyncInfo struct {
	Key string `json:"key"`

	// lastSync channel
	LastUpdated  string `json:"last_updated,omitempty"`
	Count        int    `json:"count,omitempty"`
	SyncedCount  int    `json:"synced_count"`
	NewCount     int    `json:"new_count,omitempty"`
	UpdatedCount int    `json:"updated_count,omitempty"`
	SyncType     string `json:"sync_type,omitempty"`
	IsFirstTime  bool   `json:"is_first_time,omitempty"`

	// fullLyricsSync channel
	TotalSongs   int   `json:"total_songs,omitempty"`
	SkippedCount int   `json:"skipped_count,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`

	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// DecodeSyncInfo unmarshals a stored sync record.
func DecodeSyncInfo(raw json.RawMessage) (*SyncInfo, error) {
	var info SyncInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode sync info: %w", err)
	}
	return &info, nil
}
