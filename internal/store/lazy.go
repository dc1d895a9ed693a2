package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
)

// Opener opens the backing store. It exists so tests can simulate an
// environment without persistent storage.
type Opener func(ctx context.Context) (Store, error)

// Lazy defers opening the database until the first operation. Concurrent
// first calls share a single open attempt. If opening fails the failure is
// logged once and every later call goes to a Noop store.
//
// The open does not inherit the caller's cancellation. An open that still
// fails with a context error is not treated as unavailable storage: the
// call returns the error and the next call tries again.
type Lazy struct {
	open   Opener
	logger *zap.Logger

	mu       sync.Mutex
	backing  Store
	degraded bool
	openErr  error
}

// NewLazy returns a Lazy store backed by the SQLite database at path.
func NewLazy(path string, logger *zap.Logger) *Lazy {
	logger = logging.OrNop(logger)
	return NewLazyWithOpener(func(ctx context.Context) (Store, error) {
		return Open(ctx, path, logger)
	}, logger)
}

// NewLazyWithOpener returns a Lazy store using a custom opener.
func NewLazyWithOpener(open Opener, logger *zap.Logger) *Lazy {
	return &Lazy{open: open, logger: logging.OrNop(logger).Named("store")}
}

func (l *Lazy) get(ctx context.Context) (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backing != nil {
		return l.backing, nil
	}

	s, err := l.open(context.WithoutCancel(ctx))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		l.openErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		l.logger.Warn("continuing without offline cache", zap.Error(l.openErr))
		l.backing = NewNoop()
		l.degraded = true
		return l.backing, nil
	}
	l.backing = s
	return s, nil
}

// Degraded reports whether the store fell back to Noop. It forces the open.
func (l *Lazy) Degraded(ctx context.Context) bool {
	_, _ = l.get(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// OpenErr returns the error that made the store fall back to Noop, wrapping
// ErrUnavailable, or nil.
func (l *Lazy) OpenErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openErr
}

func (l *Lazy) Get(ctx context.Context, c Collection, key string) (json.RawMessage, bool, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, false, err
	}
	return s.Get(ctx, c, key)
}

func (l *Lazy) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetAll(ctx, c)
}

func (l *Lazy) Put(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	s, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, c, key, value)
}

func (l *Lazy) PutMany(ctx context.Context, c Collection, records []Record) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.PutMany(ctx, c, records)
}

func (l *Lazy) ReplaceMany(ctx context.Context, c Collection, deleteKeys []string, records []Record) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.ReplaceMany(ctx, c, deleteKeys, records)
}

func (l *Lazy) Delete(ctx context.Context, c Collection, key string) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, c, key)
}

func (l *Lazy) Clear(ctx context.Context, c Collection) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Clear(ctx, c)
}

func (l *Lazy) Count(ctx context.Context, c Collection) (int, error) {
	s, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, c)
}

// Close closes the backing store if it was ever opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backing == nil {
		// Never opened; make later calls no-ops.
		l.backing = NewNoop()
	}
	return l.backing.Close()
}
