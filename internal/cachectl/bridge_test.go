package cachectl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chordbook/chordsync/internal/cache"
)

// fakeProxy answers control requests after delay.
type fakeProxy struct {
	delay time.Duration

	mu       sync.Mutex
	received []Message
	conns    []*websocket.Conn
}

func (p *fakeProxy) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept() failed: %v", err)
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg Message
			_ = json.Unmarshal(data, &msg)
			p.mu.Lock()
			p.received = append(p.received, msg)
			p.mu.Unlock()

			resp := ResponseType(msg.Type)
			if resp == "" {
				continue
			}
			go func(msg Message) {
				time.Sleep(p.delay)
				out := Message{Type: resp, ID: msg.ID, Success: true}
				if resp == TypePreloadComplete {
					out.Data, _ = json.Marshal(PreloadData{Cached: 6, Total: 6})
				}
				data, _ := json.Marshal(out)
				_ = conn.Write(context.Background(), websocket.MessageText, data)
			}(msg)
		}
	}
}

func (p *fakeProxy) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.received...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openBackend(t *testing.T) *cache.SQLite {
	t.Helper()
	b, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// assetOrigin serves a fixed set of paths.
func assetOrigin(t *testing.T, paths ...string) *httptest.Server {
	t.Helper()
	ok := map[string]bool{}
	for _, p := range paths {
		ok[p] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ok[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("asset " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBridge_ProxyAnswers(t *testing.T) {
	proxy := &fakeProxy{}
	srv := httptest.NewServer(proxy.handler(t))
	defer srv.Close()

	b := New(&Config{URL: wsURL(srv), Backend: openBackend(t)})
	defer b.Close()

	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	if res := b.ClearAllCaches(ctx); !res.Success || res.Method != MethodProxy {
		t.Errorf("ClearAllCaches() = %+v", res)
	}
	if res := b.UpdateCache(ctx); !res.Success || res.Method != MethodProxy {
		t.Errorf("UpdateCache() = %+v", res)
	}
	res := b.PreloadCriticalResources(ctx)
	if !res.Success || res.Method != MethodProxy || res.Cached != 6 || res.Total != 6 {
		t.Errorf("PreloadCriticalResources() = %+v", res)
	}

	msgs := proxy.messages()
	if len(msgs) != 3 {
		t.Fatalf("proxy received %d messages, want 3", len(msgs))
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if m.ID == "" || seen[m.ID] {
			t.Errorf("request id %q missing or reused", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestBridge_NoProxyFallsBack(t *testing.T) {
	ctx := context.Background()
	backend := openBackend(t)
	origin := assetOrigin(t, "/", "/index.html", "/manifest.json")

	_ = backend.Open(ctx, "chordbook-static-v0.9.0")
	_ = backend.Open(ctx, "chordbook-dynamic-v0.9.0")
	_ = backend.Open(ctx, "third-party")

	b := New(&Config{Backend: backend, Version: "v1.0.0", Origin: origin.URL})
	defer b.Close()

	res := b.UpdateCache(ctx)
	if !res.Success || res.Method != MethodFallback {
		t.Fatalf("UpdateCache() = %+v", res)
	}
	if res.Cached != 2 || res.Total != 3 {
		t.Errorf("UpdateCache() cached %d of %d, want 2 of 3", res.Cached, res.Total)
	}
	names, _ := backend.Keys(ctx)
	want := map[string]bool{"third-party": true, "chordbook-static-v1.0.0": true}
	if len(names) != len(want) {
		t.Errorf("generations = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected generation %s", n)
		}
	}

	res = b.PreloadCriticalResources(ctx)
	if !res.Success || res.Method != MethodFallback || res.Cached != 3 || res.Total != 4 {
		t.Errorf("PreloadCriticalResources() = %+v", res)
	}
	if has, _ := backend.Has(ctx, "chordbook-static-fallback"); !has {
		t.Error("fallback generation not created")
	}

	res = b.ClearAllCaches(ctx)
	if !res.Success || res.Method != MethodFallback {
		t.Errorf("ClearAllCaches() = %+v", res)
	}
	if names, _ := backend.Keys(ctx); len(names) != 0 {
		t.Errorf("generations after clear = %v", names)
	}
}

func TestBridge_TimeoutFallsBackAndIgnoresLateResponse(t *testing.T) {
	proxy := &fakeProxy{delay: 300 * time.Millisecond}
	srv := httptest.NewServer(proxy.handler(t))
	defer srv.Close()

	ctx := context.Background()
	backend := openBackend(t)
	_ = backend.Open(ctx, "chordbook-static-v1")

	b := New(&Config{URL: wsURL(srv), Backend: backend, ClearTimeout: 50 * time.Millisecond})
	defer b.Close()

	var lateMu sync.Mutex
	late := 0
	unsubscribe := b.On(TypeCachesCleared, func(Message) {
		lateMu.Lock()
		late++
		lateMu.Unlock()
	})
	defer unsubscribe()

	res := b.ClearAllCaches(ctx)
	if !res.Success || res.Method != MethodFallback {
		t.Fatalf("ClearAllCaches() = %+v, want fallback after timeout", res)
	}
	if names, _ := backend.Keys(ctx); len(names) != 0 {
		t.Errorf("fallback did not clear: %v", names)
	}

	// The late response reaches listeners but changes nothing else.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lateMu.Lock()
		n := late
		lateMu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	lateMu.Lock()
	defer lateMu.Unlock()
	if late != 1 {
		t.Errorf("listener saw %d late responses, want 1", late)
	}
}

func TestBridge_ListenersAndUnsubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var a, c int
	offA := b.On(TypeProxyActivated, func(Message) { a++ })
	b.On(TypeProxyActivated, func(Message) { c++ })

	b.dispatch(Message{Type: TypeProxyActivated})
	offA()
	b.dispatch(Message{Type: TypeProxyActivated})
	b.dispatch(Message{Type: TypeNavigateToURL})

	if a != 1 || c != 2 {
		t.Errorf("listener calls = %d, %d; want 1, 2", a, c)
	}
}

func TestBridge_FireAndForget(t *testing.T) {
	proxy := &fakeProxy{}
	srv := httptest.NewServer(proxy.handler(t))
	defer srv.Close()

	ctx := context.Background()
	b := New(&Config{URL: wsURL(srv)})
	defer b.Close()

	if err := b.SkipWaiting(ctx); err != ErrNotConnected {
		t.Errorf("SkipWaiting() before Connect = %v, want ErrNotConnected", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if err := b.NavigateTo(ctx, "/songs/12"); err != nil {
		t.Errorf("NavigateTo() failed: %v", err)
	}
	if err := b.CurrentPage(ctx, "/favorites"); err != nil {
		t.Errorf("CurrentPage() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(proxy.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := proxy.messages()
	if len(msgs) != 2 || msgs[0].Type != TypeNavigateTo || msgs[0].URL != "/songs/12" || msgs[1].Type != TypeCurrentPage {
		t.Errorf("proxy received %+v", msgs)
	}
}

func TestBridge_NoneBackendFallback(t *testing.T) {
	b := New(&Config{})
	defer b.Close()

	res := b.ClearAllCaches(context.Background())
	if !res.Success || res.Method != MethodFallback || res.Message == "" {
		t.Errorf("ClearAllCaches() = %+v", res)
	}
}

func TestBridge_RequestTimeout(t *testing.T) {
	proxy := &fakeProxy{delay: 200 * time.Millisecond}
	srv := httptest.NewServer(proxy.handler(t))
	defer srv.Close()

	b := New(&Config{URL: wsURL(srv)})
	defer b.Close()

	_, err := b.request(context.Background(), TypeCacheUpdate, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("request() error = %v, want ErrTimeout", err)
	}
}

func TestBridge_ConnectionLostFallsBackImmediately(t *testing.T) {
	// The proxy reads one request and hangs up without answering.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept() failed: %v", err)
			return
		}
		_, _, _ = conn.Read(r.Context())
		_ = conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer srv.Close()

	ctx := context.Background()
	backend := openBackend(t)
	_ = backend.Open(ctx, "chordbook-static-v1")

	b := New(&Config{URL: wsURL(srv), Backend: backend, ClearTimeout: 10 * time.Second})
	defer b.Close()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	start := time.Now()
	res := b.ClearAllCaches(ctx)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ClearAllCaches() took %v, want fallback as soon as the connection closed", elapsed)
	}
	if !res.Success || res.Method != MethodFallback {
		t.Fatalf("ClearAllCaches() = %+v, want fallback", res)
	}
	if names, _ := backend.Keys(ctx); len(names) != 0 {
		t.Errorf("fallback did not clear: %v", names)
	}
}

func TestBridge_RequestConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.Read(r.Context())
		_ = conn.Close(websocket.StatusGoingAway, "")
	}))
	defer srv.Close()

	b := New(&Config{URL: wsURL(srv)})
	defer b.Close()

	_, err := b.request(context.Background(), TypeCacheUpdate, 10*time.Second)
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("request() error = %v, want ErrConnectionLost", err)
	}
	if b.Connected() {
		t.Error("Connected() = true after the proxy hung up")
	}
}
