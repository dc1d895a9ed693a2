package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
)

// Noop is the Store used when persistent storage is unavailable: every
// read is empty and every write succeeds without effect.
type Noop struct {
	seq atomic.Int64
}

// NewNoop returns a Noop store.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Get(ctx context.Context, c Collection, key string) (json.RawMessage, bool, error) {
	return nil, false, nil
}

func (n *Noop) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	return nil, nil
}

func (n *Noop) Put(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	if c.AutoKey() {
		return strconv.FormatInt(n.seq.Add(1), 10), nil
	}
	return key, nil
}

func (n *Noop) PutMany(ctx context.Context, c Collection, records []Record) error {
	return nil
}

func (n *Noop) ReplaceMany(ctx context.Context, c Collection, deleteKeys []string, records []Record) error {
	return nil
}

func (n *Noop) Delete(ctx context.Context, c Collection, key string) error { return nil }

func (n *Noop) Clear(ctx context.Context, c Collection) error { return nil }

func (n *Noop) Count(ctx context.Context, c Collection) (int, error) { return 0, nil }

func (n *Noop) Close() error { return nil }
