// Package cache stores HTTP responses in named generations.
//
// A generation is a versioned bucket of responses keyed by request path,
// e.g. "chordbook-static-v1.0.0". The proxy fills generations and serves
// from them when the origin is unreachable; the bridge falls back to them
// directly when no proxy is running.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Generation naming.
const (
	Prefix = "chordbook-"

	staticKind  = "static"
	dynamicKind = "dynamic"
)

// StaticGeneration names the generation holding precached assets.
func StaticGeneration(version string) string {
	return Prefix + staticKind + "-" + version
}

// DynamicGeneration names the generation holding runtime-cached responses.
func DynamicGeneration(version string) string {
	return Prefix + dynamicKind + "-" + version
}

// IsOwned reports whether name is a generation this program manages.
func IsOwned(name string) bool {
	return strings.HasPrefix(name, Prefix)
}

// IsStatic reports whether name is a static generation of any version.
func IsStatic(name string) bool {
	return strings.HasPrefix(name, Prefix+staticKind+"-")
}

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

var (
	// ErrNoGeneration is returned by Put when the generation was never opened.
	ErrNoGeneration = errors.New("cache generation does not exist")

	// ErrUnsupported is returned by the none backend for writes.
	ErrUnsupported = errors.New("cache storage unavailable")
)

// Entry is a stored response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt int64       `json:"stored_at"` // unix milliseconds
}

// Backend is a set of named generations.
//
// Keys and MatchAny walk generations in creation order.
type Backend interface {
	Keys(ctx context.Context) ([]string, error)
	Has(ctx context.Context, gen string) (bool, error)
	Open(ctx context.Context, gen string) error
	Delete(ctx context.Context, gen string) (bool, error)
	Put(ctx context.Context, gen, key string, e *Entry) error
	Match(ctx context.Context, gen, key string) (*Entry, bool, error)
	MatchAny(ctx context.Context, key string) (*Entry, bool, error)
	Entries(ctx context.Context, gen string) ([]string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Path is the SQLite database file.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, cfg.Path, logger)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	case BackendNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
