// Package store provides the persistent local catalog mirror.
//
// The store is a set of named collections, each a keyed map of JSON
// records. Three implementations satisfy Store:
//
//   - SQLite: an embedded database (ncruces/go-sqlite3) in WAL mode whose
//     schema is versioned by numbered, additive migrations.
//   - Noop: used when persistent storage is unavailable. Reads return
//     nothing and writes succeed without effect.
//   - Lazy: opens SQLite on first use and permanently degrades to Noop if
//     that fails.
//
// A single PutMany or ReplaceMany call is atomic. Nothing spans calls.
package store

import (
	"context"
	"encoding/json"
)

// Collection names a keyed record set.
type Collection string

const (
	Songs             Collection = "songs"
	SongDetails       Collection = "songDetails"
	Favorites         Collection = "favorites"
	PendingOperations Collection = "pendingOperations"
	SyncInfo          Collection = "syncInfo"
)

// Collections lists every collection in the current schema.
var Collections = []Collection{Songs, SongDetails, Favorites, PendingOperations, SyncInfo}

// IsValid reports whether c is a known collection.
func (c Collection) IsValid() bool {
	_, ok := tables[c]
	return ok
}

// AutoKey reports whether the store assigns keys for c.
func (c Collection) AutoKey() bool {
	return c == PendingOperations
}

var tables = map[Collection]string{
	Songs:             "songs",
	SongDetails:       "song_details",
	Favorites:         "favorites",
	PendingOperations: "pending_operations",
	SyncInfo:          "sync_info",
}

// Record is one keyed value.
type Record struct {
	Key   string
	Value json.RawMessage
}

// NewRecord marshals v into a Record.
func NewRecord(key string, v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: data}, nil
}

// Store is the local persistence contract.
type Store interface {
	// Get returns the value stored under key. The bool is false when the
	// key is absent.
	Get(ctx context.Context, c Collection, key string) (json.RawMessage, bool, error)

	// GetAll returns every record in c ordered by key (numeric keys sort
	// numerically).
	GetAll(ctx context.Context, c Collection) ([]Record, error)

	// Put upserts one record and returns its key. For auto-keyed
	// collections the key argument is ignored and the assigned key is
	// returned.
	Put(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error)

	// PutMany upserts records in one transaction.
	PutMany(ctx context.Context, c Collection, records []Record) error

	// ReplaceMany deletes deleteKeys then upserts records, in one
	// transaction.
	ReplaceMany(ctx context.Context, c Collection, deleteKeys []string, records []Record) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, c Collection, key string) error

	// Clear removes every record in c.
	Clear(ctx context.Context, c Collection) error

	// Count returns the number of records in c.
	Count(ctx context.Context, c Collection) (int, error)

	Close() error
}
