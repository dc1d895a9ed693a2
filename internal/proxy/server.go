// Package proxy is the background process that sits between the app and
// its origin server.
//
// Every app request goes through the proxy, which fetches from the origin
// and keeps a copy in versioned cache generations. When the origin is
// unreachable the cached copy is served instead. Pages connect to the
// control channel to manage caches and receive navigation commands.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/cachectl"
	"github.com/chordbook/chordsync/internal/logging"
)

// Routes served by the proxy itself. Everything else is proxied.
const (
	ControlPath = "/__proxy/control"
	HealthPath  = "/__proxy/health"
)

// PageOpener opens a new page at url when no page is connected.
type PageOpener interface {
	OpenPage(url string) error
}

// PageOpenerFunc adapts a function to PageOpener.
type PageOpenerFunc func(url string) error

// OpenPage implements PageOpener.
func (f PageOpenerFunc) OpenPage(url string) error { return f(url) }

// Config holds proxy configuration.
type Config struct {
	// Listen is the local address, e.g. 127.0.0.1:8787. Port 0 picks one.
	Listen string

	// Origin is the upstream app server.
	Origin string

	// Version names the current cache generations.
	Version string

	// StaticAssets are precached on install.
	StaticAssets []string

	Backend    cache.Backend
	HTTPClient *http.Client
	Opener     PageOpener
	Logger     *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:  "127.0.0.1:8787",
		Version: "v1.0.0",
		StaticAssets: []string{
			"/", "/index.html", "/manifest.json",
			"/Logo_app.png", "/logo192.png", "/logo512.png",
		},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// client is a connected page.
type client struct {
	seq int64
	mu  sync.Mutex
	url string
}

// Server is the proxy process.
type Server struct {
	config   *Config
	origin   *url.URL
	listener net.Listener
	server   *http.Server
	logger   *zap.Logger

	phase atomic.Value // Phase

	// lifecycle serializes install and activation
	lifecycle sync.Mutex

	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex
	clientSeq int64

	broadcast chan cachectl.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a proxy. It does not listen until Start.
func NewServer(config *Config) (*Server, error) {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Listen == "" {
		config.Listen = defaults.Listen
	}
	if config.Version == "" {
		config.Version = defaults.Version
	}
	if config.StaticAssets == nil {
		config.StaticAssets = defaults.StaticAssets
	}
	if config.HTTPClient == nil {
		config.HTTPClient = defaults.HTTPClient
	}
	if config.Backend == nil {
		config.Backend = cache.None{}
	}

	origin, err := url.Parse(config.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", config.Origin)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		origin:    origin,
		logger:    logging.OrNop(config.Logger).Named("proxy"),
		clients:   make(map[*websocket.Conn]*client),
		broadcast: make(chan cachectl.Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.phase.Store(PhaseInstalling)
	return s, nil
}

// Router returns the proxy's HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(ControlPath, s.handleControl)
	r.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.HandlerFunc(s.handleFetch))
	return r
}

// Start listens and serves, then installs and activates the current
// generations in the background. An install failure is logged; requests
// are still proxied.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("proxy listening", zap.String("addr", ln.Addr().String()), zap.String("origin", s.config.Origin))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Install(ctx); err != nil {
			s.logger.Warn("install failed, serving without precache", zap.Error(err))
			return
		}
		if err := s.Activate(ctx); err != nil {
			s.logger.Warn("activation failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping proxy")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("proxy stopped")
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Listen
}

// ClientCount returns the number of connected pages.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues msg for every connected page.
func (s *Server) Broadcast(msg cachectl.Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				if err := write(conn, data); err != nil {
					s.logger.Debug("failed to send to page", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"phase":   s.Phase(),
		"version": s.config.Version,
		"clients": s.ClientCount(),
	})
}
