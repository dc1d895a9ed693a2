package cachectl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/logging"
)

var (
	// ErrNotConnected is returned by fire-and-forget sends without a proxy.
	ErrNotConnected = errors.New("not connected to proxy")

	// ErrTimeout means the proxy did not answer a request in time.
	ErrTimeout = errors.New("proxy did not respond")

	// ErrConnectionLost means the proxy connection closed while a request
	// was waiting for its response.
	ErrConnectionLost = errors.New("proxy connection lost")
)

// Result methods.
const (
	MethodProxy    = "proxy"
	MethodFallback = "fallback"
)

// Result is the outcome of a cache operation.
type Result struct {
	Success bool   `json:"success"`
	Method  string `json:"method"`
	Cached  int    `json:"cached,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config holds bridge configuration.
type Config struct {
	// URL is the proxy control endpoint, e.g. ws://127.0.0.1:8787/__proxy/control.
	URL string

	// Version is the current cache version, used by the update fallback.
	Version string

	// Backend is managed directly when the proxy does not answer.
	Backend cache.Backend

	// Origin serves the assets the fallbacks fetch.
	Origin     string
	HTTPClient *http.Client

	ClearTimeout   time.Duration
	UpdateTimeout  time.Duration
	PreloadTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClearTimeout:   30 * time.Second,
		UpdateTimeout:  60 * time.Second,
		PreloadTimeout: 120 * time.Second,
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Bridge is a client of the proxy control channel.
type Bridge struct {
	config *Config
	logger *zap.Logger

	connMu   sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{} // closed when conn's reader exits

	pendingMu sync.Mutex
	pending   map[string]chan Message

	listenersMu sync.RWMutex
	listeners   map[MessageType]map[uint64]func(Message)
	nextID      uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bridge. Call Connect to reach the proxy; without a
// connection every operation uses the fallback.
func New(config *Config) *Bridge {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.ClearTimeout <= 0 {
		config.ClearTimeout = defaults.ClearTimeout
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = defaults.UpdateTimeout
	}
	if config.PreloadTimeout <= 0 {
		config.PreloadTimeout = defaults.PreloadTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = defaults.HTTPClient
	}
	if config.Backend == nil {
		config.Backend = cache.None{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:    config,
		logger:    logging.OrNop(config.Logger).Named("cachectl"),
		pending:   make(map[string]chan Message),
		listeners: make(map[MessageType]map[uint64]func(Message)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials the proxy. Failure is not fatal: operations fall back.
func (b *Bridge) Connect(ctx context.Context) error {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		return nil
	}
	if b.config.URL == "" {
		return ErrNotConnected
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, b.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to proxy at %s: %w", b.config.URL, err)
	}
	b.conn = conn
	done := make(chan struct{})
	b.connDone = done

	b.wg.Add(1)
	go b.readLoop(conn, done)

	b.logger.Debug("connected to proxy", zap.String("url", b.config.URL))
	return nil
}

// Connected reports whether a proxy connection is open.
func (b *Bridge) Connected() bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.conn != nil
}

// Close disconnects and waits for the reader to exit.
func (b *Bridge) Close() error {
	b.cancel()
	b.connMu.Lock()
	conn := b.conn
	b.conn = nil
	b.connDone = nil
	b.connMu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	b.wg.Wait()
	return nil
}

// On registers fn for every inbound message of type t. Several listeners
// may be registered for the same type. The returned func unregisters fn.
func (b *Bridge) On(t MessageType, fn func(Message)) func() {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.nextID++
	id := b.nextID
	if b.listeners[t] == nil {
		b.listeners[t] = make(map[uint64]func(Message))
	}
	b.listeners[t][id] = fn

	return func() {
		b.listenersMu.Lock()
		defer b.listenersMu.Unlock()
		delete(b.listeners[t], id)
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer b.wg.Done()
	defer close(done)
	defer b.dropConn(conn)

	for {
		_, data, err := conn.Read(b.ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("ignoring malformed control message", zap.Error(err))
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg Message) {
	if msg.ID != "" {
		b.pendingMu.Lock()
		ch, ok := b.pending[msg.ID]
		if ok {
			delete(b.pending, msg.ID)
		}
		b.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	}

	b.listenersMu.RLock()
	fns := make([]func(Message), 0, len(b.listeners[msg.Type]))
	for _, fn := range b.listeners[msg.Type] {
		fns = append(fns, fn)
	}
	b.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (b *Bridge) dropConn(conn *websocket.Conn) {
	b.connMu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.connDone = nil
	}
	b.connMu.Unlock()
}

func (b *Bridge) send(ctx context.Context, msg Message) error {
	b.connMu.Lock()
	conn := b.conn
	b.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Type, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// request posts a request and waits for the response carrying its id. A
// timeout only abandons the wait; a response arriving later is discarded.
// If the connection closes first the wait ends with ErrConnectionLost.
func (b *Bridge) request(ctx context.Context, t MessageType, timeout time.Duration) (Message, error) {
	if !b.Connected() {
		if err := b.Connect(ctx); err != nil {
			return Message{}, err
		}
	}
	b.connMu.Lock()
	lost := b.connDone
	b.connMu.Unlock()

	id := uuid.NewString()
	ch := make(chan Message, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	if err := b.send(ctx, Message{Type: t, ID: id}); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		return checkResponse(t, msg)
	case <-lost:
		select {
		case msg := <-ch:
			return checkResponse(t, msg)
		default:
		}
		return Message{}, fmt.Errorf("%s: %w", t, ErrConnectionLost)
	case <-timer.C:
		return Message{}, fmt.Errorf("%s after %s: %w", t, timeout, ErrTimeout)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func checkResponse(t MessageType, msg Message) (Message, error) {
	if msg.Type != ResponseType(t) {
		return Message{}, fmt.Errorf("unexpected response %s to %s", msg.Type, t)
	}
	return msg, nil
}

// ClearAllCaches asks the proxy to drop every generation, or drops them
// directly.
func (b *Bridge) ClearAllCaches(ctx context.Context) Result {
	msg, err := b.request(ctx, TypeClearAllCaches, b.config.ClearTimeout)
	if err == nil {
		return proxyResult(msg)
	}
	b.logger.Info("proxy unavailable, clearing caches directly", zap.Error(err))
	return b.fallbackClear(ctx)
}

// UpdateCache asks the proxy to refetch its static assets, or refreshes the
// essentials directly.
func (b *Bridge) UpdateCache(ctx context.Context) Result {
	msg, err := b.request(ctx, TypeCacheUpdate, b.config.UpdateTimeout)
	if err == nil {
		return proxyResult(msg)
	}
	b.logger.Info("proxy unavailable, updating cache directly", zap.Error(err))
	return b.fallbackUpdate(ctx)
}

// PreloadCriticalResources asks the proxy to precache the asset manifest,
// or caches the critical assets directly.
func (b *Bridge) PreloadCriticalResources(ctx context.Context) Result {
	msg, err := b.request(ctx, TypePreloadResources, b.config.PreloadTimeout)
	if err == nil {
		res := proxyResult(msg)
		var data PreloadData
		if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &data) == nil {
			res.Cached, res.Total = data.Cached, data.Total
		}
		return res
	}
	b.logger.Info("proxy unavailable, preloading directly", zap.Error(err))
	return b.fallbackPreload(ctx)
}

func proxyResult(msg Message) Result {
	return Result{Success: msg.Success, Method: MethodProxy, Error: msg.Error}
}

// SkipWaiting asks a waiting proxy to activate now.
func (b *Bridge) SkipWaiting(ctx context.Context) error {
	return b.send(ctx, Message{Type: TypeSkipWaiting})
}

// NavigateTo asks the proxy to bring a page to url.
func (b *Bridge) NavigateTo(ctx context.Context, url string) error {
	return b.send(ctx, Message{Type: TypeNavigateTo, URL: url})
}

// CurrentPage reports the page the app is showing.
func (b *Bridge) CurrentPage(ctx context.Context, url string) error {
	return b.send(ctx, Message{Type: TypeCurrentPage, URL: url})
}
