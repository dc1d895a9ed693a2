package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	b, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func entry(body string) *Entry {
	return &Entry{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(body),
	}
}

// exerciseBackend runs the shared contract against b.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	static := StaticGeneration("v1")
	dynamic := DynamicGeneration("v1")

	if err := b.Put(ctx, static, "/index.html", entry("x")); !errors.Is(err, ErrNoGeneration) {
		t.Errorf("Put() into unopened generation error = %v, want ErrNoGeneration", err)
	}

	for _, gen := range []string{static, dynamic} {
		if err := b.Open(ctx, gen); err != nil {
			t.Fatalf("Open(%s) failed: %v", gen, err)
		}
	}
	if err := b.Open(ctx, static); err != nil {
		t.Fatalf("reopening generation failed: %v", err)
	}

	names, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(names) != 2 || names[0] != static || names[1] != dynamic {
		t.Errorf("Keys() = %v, want [%s %s]", names, static, dynamic)
	}

	if err := b.Put(ctx, static, "/index.html", entry("shell")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := b.Put(ctx, dynamic, "/index.html", entry("newer")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := b.Put(ctx, dynamic, "/songs/1", entry("song")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	e, ok, err := b.Match(ctx, static, "/index.html")
	if err != nil || !ok {
		t.Fatalf("Match() = %v, %v", ok, err)
	}
	if string(e.Body) != "shell" || e.Status != http.StatusOK {
		t.Errorf("Match() = %+v", e)
	}
	if e.Header.Get("Content-Type") != "text/html" {
		t.Errorf("header not preserved: %v", e.Header)
	}
	if e.StoredAt == 0 {
		t.Error("StoredAt not set")
	}

	// Earliest generation wins.
	e, ok, err = b.MatchAny(ctx, "/index.html")
	if err != nil || !ok || string(e.Body) != "shell" {
		t.Errorf("MatchAny() = %+v, %v, %v", e, ok, err)
	}
	e, ok, _ = b.MatchAny(ctx, "/songs/1")
	if !ok || string(e.Body) != "song" {
		t.Errorf("MatchAny(/songs/1) = %+v, %v", e, ok)
	}
	if _, ok, _ := b.MatchAny(ctx, "/missing"); ok {
		t.Error("MatchAny() found a missing key")
	}

	keys, err := b.Entries(ctx, dynamic)
	if err != nil || len(keys) != 2 {
		t.Errorf("Entries() = %v, %v", keys, err)
	}

	deleted, err := b.Delete(ctx, static)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v", deleted, err)
	}
	if has, _ := b.Has(ctx, static); has {
		t.Error("generation still present after Delete()")
	}
	if _, ok, _ := b.Match(ctx, static, "/index.html"); ok {
		t.Error("entries of deleted generation still readable")
	}
	deleted, _ = b.Delete(ctx, static)
	if deleted {
		t.Error("second Delete() reported a deletion")
	}
}

func TestSQLiteBackend(t *testing.T) {
	exerciseBackend(t, openTestSQLite(t))
}

func TestSQLiteBackend_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b, err := OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	_ = b.Open(ctx, "chordbook-static-v1")
	_ = b.Put(ctx, "chordbook-static-v1", "/", entry("root"))
	if err := b.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	b, err = OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()
	if _, ok, _ := b.Match(ctx, "chordbook-static-v1", "/"); !ok {
		t.Error("entry lost across reopen")
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("CHORDSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHORDSYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	b, err := OpenRedis(ctx, addr, "", 15, nil)
	if err != nil {
		t.Fatalf("OpenRedis() failed: %v", err)
	}
	defer b.Close()

	cleanup := func() {
		names, _ := b.Keys(ctx)
		for _, n := range names {
			_, _ = b.Delete(ctx, n)
		}
	}
	cleanup()
	t.Cleanup(cleanup)

	exerciseBackend(t, b)
}

func TestNoneBackend(t *testing.T) {
	ctx := context.Background()
	var b Backend = None{}

	if err := b.Open(ctx, "x"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Open() error = %v, want ErrUnsupported", err)
	}
	names, err := b.Keys(ctx)
	if err != nil || len(names) != 0 {
		t.Errorf("Keys() = %v, %v", names, err)
	}
	capability, err := CheckOfflineCapability(ctx, b)
	if err != nil || capability.Capable {
		t.Errorf("CheckOfflineCapability() = %+v, %v", capability, err)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	b, err := New(ctx, Config{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "c.db")}, nil)
	if err != nil {
		t.Fatalf("New(sqlite) failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*SQLite); !ok {
		t.Errorf("New(sqlite) = %T", b)
	}

	if b, err := New(ctx, Config{Backend: BackendNone}, nil); err != nil || b == nil {
		t.Errorf("New(none) = %v, %v", b, err)
	}
	if _, err := New(ctx, Config{Backend: "memcached"}, nil); err == nil {
		t.Error("New() accepted an unknown backend")
	}
}

func TestGenerationNames(t *testing.T) {
	if got := StaticGeneration("v1.0.0"); got != "chordbook-static-v1.0.0" {
		t.Errorf("StaticGeneration() = %q", got)
	}
	if got := DynamicGeneration("v1.0.0"); got != "chordbook-dynamic-v1.0.0" {
		t.Errorf("DynamicGeneration() = %q", got)
	}
	if !IsOwned("chordbook-dynamic-v0") || IsOwned("other-static-v1") {
		t.Error("IsOwned() misclassifies")
	}
	if !IsStatic("chordbook-static-v0") || IsStatic("chordbook-dynamic-v0") {
		t.Error("IsStatic() misclassifies")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)
	_ = b.Open(ctx, StaticGeneration("v1"))
	_ = b.Open(ctx, DynamicGeneration("v1"))
	_ = b.Put(ctx, StaticGeneration("v1"), "/index.html", entry("12345"))
	_ = b.Put(ctx, StaticGeneration("v1"), "/manifest.json", entry("{}"))

	sum, err := Stats(ctx, b)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if len(sum.Generations) != 2 {
		t.Fatalf("Generations = %+v", sum.Generations)
	}
	if sum.Generations[0].Entries != 2 || sum.Generations[0].Bytes != 7 {
		t.Errorf("static stats = %+v, want 2 entries 7 bytes", sum.Generations[0])
	}
	if sum.Generations[1].Entries != 0 {
		t.Errorf("dynamic stats = %+v, want empty", sum.Generations[1])
	}
	if sum.TotalBytes != 7 {
		t.Errorf("TotalBytes = %d, want 7", sum.TotalBytes)
	}
	if got := sum.Generations[0].Size(); got != "7 B" {
		t.Errorf("Size() = %q, want 7 B", got)
	}
}

func TestCheckOfflineCapability(t *testing.T) {
	ctx := context.Background()
	b := openTestSQLite(t)

	c, _ := CheckOfflineCapability(ctx, b)
	if c.Capable || c.Reason != "no static cache found" {
		t.Errorf("empty backend: %+v", c)
	}

	gen := StaticGeneration("v1")
	_ = b.Open(ctx, gen)
	_ = b.Put(ctx, gen, "/index.html", entry("shell"))
	c, _ = CheckOfflineCapability(ctx, b)
	if c.Capable {
		t.Errorf("capable without manifest: %+v", c)
	}

	_ = b.Put(ctx, gen, "/manifest.json", entry("{}"))
	c, err := CheckOfflineCapability(ctx, b)
	if err != nil || !c.Capable || c.Generation != gen {
		t.Errorf("CheckOfflineCapability() = %+v, %v", c, err)
	}
}
