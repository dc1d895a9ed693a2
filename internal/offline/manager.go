// Package offline keeps the local catalog mirror in step with the remote
// catalog.
//
// A Manager owns three independent in-flight guards:
//
//   - metadata sync (PerformSmartSync)
//   - content sync (PerformFullLyricsSync)
//   - the coarse connectivity-triggered path (SyncWhenOnline)
//
// A call that finds its guard taken returns immediately with reason
// "already_in_progress"; nothing is queued. Guards are released in a
// deferred function so a failure or panic never leaves them set.
//
// Every public sync entry point returns a result struct rather than an
// error. Unexpected failures, including panics, become Success=false with
// the message in Error.
package offline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/catalog"
	"github.com/chordbook/chordsync/internal/logging"
	"github.com/chordbook/chordsync/internal/network"
	"github.com/chordbook/chordsync/internal/schema"
	"github.com/chordbook/chordsync/internal/store"
)

// CatalogAPI is the subset of the remote catalog the manager uses.
type CatalogAPI interface {
	Summary(ctx context.Context) (*catalog.Summary, error)
	Sync(ctx context.Context, params catalog.SyncParams) ([]schema.Song, error)
	SyncDetails(ctx context.Context, ids []int64, force int64) ([]schema.SongDetail, error)
	PushFavorite(ctx context.Context, op schema.QueuedOperation) error
}

// Policy reports connectivity and whether sync is currently allowed.
type Policy interface {
	State() network.State
	ShouldSync() bool
}

// Options tunes a Manager. The zero value is usable.
type Options struct {
	// BatchDelay is the minimum spacing between content-sync batches.
	BatchDelay time.Duration

	// Hints supplies device capacity hints; defaults to SystemHints.
	Hints func() CapacityHints

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// Manager is the sync orchestrator. Construct one per process and share it.
type Manager struct {
	store   store.Store
	api     CatalogAPI
	policy  Policy
	options Options
	logger  *zap.Logger

	smartSyncing  atomic.Bool
	lyricsSyncing atomic.Bool
	anySyncing    atomic.Bool
}

// New creates a Manager.
func New(s store.Store, api CatalogAPI, policy Policy, opts Options) *Manager {
	if opts.Hints == nil {
		opts.Hints = SystemHints
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	return &Manager{
		store:   s,
		api:     api,
		policy:  policy,
		options: opts,
		logger:  logging.OrNop(opts.Logger).Named("sync"),
	}
}

func (m *Manager) nowMillis() int64 {
	return m.options.Now().UnixMilli()
}

// recovered converts a recovered panic value into an error message.
func recovered(r interface{}) string {
	return fmt.Sprintf("unexpected panic: %v", r)
}

// SyncInProgress reports which guards are currently held.
func (m *Manager) SyncInProgress() (smart, lyrics, any bool) {
	return m.smartSyncing.Load(), m.lyricsSyncing.Load(), m.anySyncing.Load()
}
