package offline

import (
	"context"

	"go.uber.org/zap"
)

// SyncWhenOnline is the connectivity-triggered path. It holds the coarse
// any-sync guard, checks the network policy, replays the offline outbox
// and then runs a metadata sync.
func (m *Manager) SyncWhenOnline(ctx context.Context) (result SmartSyncResult) {
	if !m.anySyncing.CompareAndSwap(false, true) {
		return SmartSyncResult{Success: true, Reason: ReasonAlreadyInProgress}
	}
	defer m.anySyncing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			result = SmartSyncResult{Success: false, Error: recovered(r)}
		}
	}()

	if !m.policy.ShouldSync() {
		return SmartSyncResult{Success: false, Reason: ReasonNetworkNotMet}
	}

	replay := m.ReplayPendingOperations(ctx)
	if !replay.Success {
		m.logger.Warn("outbox replay incomplete", zap.String("error", replay.Error), zap.Int("remaining", replay.Remaining))
	}

	return m.PerformSmartSync(ctx, SyncOnline)
}
