package offline

import (
	"context"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// ServerInfo is the remote catalog summary captured by an eligibility check.
type ServerInfo struct {
	Count       int    `json:"count"`
	LastUpdated string `json:"last_updated"`
}

// LocalInfo describes the local mirror at check time.
type LocalInfo struct {
	Count       int    `json:"count"`
	LastSync    int64  `json:"last_sync,omitempty"` // unix milliseconds
	LastUpdated string `json:"last_updated,omitempty"`
}

// SyncCheck is the outcome of CheckSyncNeeded.
type SyncCheck struct {
	Needed     bool        `json:"needed"`
	Reason     string      `json:"reason"`
	ServerInfo *ServerInfo `json:"server_info,omitempty"`
	LocalInfo  LocalInfo   `json:"local_info"`
	Error      string      `json:"error,omitempty"`
}

// ClassifySync decides whether a metadata sync is needed. Checks run in
// priority order: no recorded sync, count mismatch, changed last-updated
// timestamp.
func ClassifySync(hasSyncInfo bool, localCount, remoteCount int, localLastUpdated, remoteLastUpdated string) (bool, string) {
	switch {
	case !hasSyncInfo:
		return true, ReasonFirstSync
	case localCount != remoteCount:
		return true, ReasonCountMismatch
	case localLastUpdated != remoteLastUpdated:
		return true, ReasonDataUpdated
	default:
		return false, ReasonUpToDate
	}
}

// CheckSyncNeeded compares the remote summary against the local mirror. A
// failed summary request reports not needed with reason api_unavailable.
func (m *Manager) CheckSyncNeeded(ctx context.Context) (check SyncCheck) {
	defer func() {
		if r := recover(); r != nil {
			check = SyncCheck{Needed: false, Reason: ReasonError, Error: recovered(r)}
		}
	}()

	info, err := m.GetSyncInfo(ctx, schema.ChannelLastSync)
	if err != nil {
		return SyncCheck{Reason: ReasonError, Error: err.Error()}
	}
	localCount, err := m.store.Count(ctx, store.Songs)
	if err != nil {
		return SyncCheck{Reason: ReasonError, Error: err.Error()}
	}

	local := LocalInfo{Count: localCount}
	if info != nil {
		local.LastSync = info.Timestamp
		local.LastUpdated = info.LastUpdated
	}

	summary, err := m.api.Summary(ctx)
	if err != nil {
		m.logger.Warn("catalog summary unavailable", zap.Error(err))
		return SyncCheck{Needed: false, Reason: ReasonAPIUnavailable, LocalInfo: local, Error: err.Error()}
	}

	needed, reason := ClassifySync(info != nil, localCount, summary.TotalCount, local.LastUpdated, summary.LastUpdated)
	return SyncCheck{
		Needed:     needed,
		Reason:     reason,
		ServerInfo: &ServerInfo{Count: summary.TotalCount, LastUpdated: summary.LastUpdated},
		LocalInfo:  local,
	}
}
