package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
	"github.com/chordbook/chordsync/internal/cachectl"
)

// handleControl upgrades a page connection to the control channel.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", s.origin.Host},
	})
	if err != nil {
		s.logger.Warn("control upgrade failed", zap.Error(err))
		return
	}

	s.clientsMu.Lock()
	s.clientSeq++
	s.clients[conn] = &client{seq: s.clientSeq}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("page connected", zap.Int("clients", count))

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		var msg cachectl.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed control message", zap.Error(err))
			continue
		}
		s.handleMessage(conn, msg)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("page disconnected", zap.Int("clients", count))
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleMessage(conn *websocket.Conn, msg cachectl.Message) {
	switch msg.Type {
	case cachectl.TypeClearAllCaches, cachectl.TypeCacheUpdate, cachectl.TypePreloadResources:
		// Cache work can take minutes; keep reading meanwhile.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reply(conn, s.runRequest(s.ctx, msg))
		}()

	case cachectl.TypeSkipWaiting:
		if err := s.Activate(s.ctx); err != nil {
			s.logger.Warn("skip waiting failed", zap.Error(err))
		}

	case cachectl.TypeNavigateTo:
		s.navigate(msg.URL)

	case cachectl.TypeCurrentPage:
		s.clientsMu.RLock()
		c := s.clients[conn]
		s.clientsMu.RUnlock()
		if c != nil {
			c.mu.Lock()
			c.url = msg.URL
			c.mu.Unlock()
		}

	default:
		s.logger.Debug("ignoring control message", zap.String("type", string(msg.Type)))
	}
}

// runRequest performs a cache request and builds its response.
func (s *Server) runRequest(ctx context.Context, msg cachectl.Message) cachectl.Message {
	resp := cachectl.Message{Type: cachectl.ResponseType(msg.Type), ID: msg.ID, Success: true}

	var err error
	switch msg.Type {
	case cachectl.TypeClearAllCaches:
		err = s.clearAll(ctx)
	case cachectl.TypeCacheUpdate:
		err = s.Install(ctx)
	case cachectl.TypePreloadResources:
		var data cachectl.PreloadData
		data, err = s.preload(ctx)
		resp.Data, _ = json.Marshal(data)
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) reply(conn *websocket.Conn, msg cachectl.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := write(conn, data); err != nil {
		s.logger.Debug("failed to reply", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (s *Server) clearAll(ctx context.Context) error {
	names, err := s.config.Backend.Keys(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := s.config.Backend.Delete(ctx, name); err != nil {
			return err
		}
	}
	s.logger.Info("cleared all caches", zap.Int("generations", len(names)))
	return nil
}

// preload fetches every static asset, then any /static/ asset the app page
// references that is not cached yet. Individual failures are tolerated.
func (s *Server) preload(ctx context.Context) (cachectl.PreloadData, error) {
	data := cachectl.PreloadData{Total: len(s.config.StaticAssets)}
	gen := s.StaticGeneration()
	if err := s.config.Backend.Open(ctx, gen); err != nil {
		return data, err
	}
	for _, asset := range s.config.StaticAssets {
		if s.add(ctx, gen, asset) {
			data.Cached++
		}
	}

	missing, err := s.missingAssets(ctx, gen)
	if err != nil {
		s.logger.Warn("failed to scan app page for assets", zap.Error(err))
		return data, nil
	}
	data.Total += len(missing)
	for _, asset := range missing {
		if s.add(ctx, gen, asset) {
			data.Cached++
		}
	}
	if len(missing) > 0 {
		s.logger.Info("preloaded assets referenced by app page", zap.Int("missing", len(missing)))
	}
	return data, nil
}

func (s *Server) add(ctx context.Context, gen, asset string) bool {
	if err := cache.Add(ctx, s.config.Backend, s.config.HTTPClient, s.config.Origin, gen, asset); err != nil {
		s.logger.Warn("preload failed", zap.String("asset", asset), zap.Error(err))
		return false
	}
	return true
}

// navigate sends the first connected page to url, or opens a new page.
func (s *Server) navigate(url string) {
	s.clientsMu.RLock()
	var first *websocket.Conn
	var firstSeq int64
	for conn, c := range s.clients {
		if first == nil || c.seq < firstSeq {
			first, firstSeq = conn, c.seq
		}
	}
	s.clientsMu.RUnlock()

	if first != nil {
		s.reply(first, cachectl.Message{Type: cachectl.TypeNavigateToURL, URL: url})
		return
	}
	if s.config.Opener == nil {
		s.logger.Warn("no page connected and no opener configured", zap.String("url", url))
		return
	}
	if err := s.config.Opener.OpenPage(url); err != nil {
		s.logger.Warn("failed to open page", zap.String("url", url), zap.Error(err))
	}
}

// Pages returns the last reported URL of every connected page.
func (s *Server) Pages() []string {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	pages := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		c.mu.Lock()
		if c.url != "" {
			pages = append(pages, c.url)
		}
		c.mu.Unlock()
	}
	return pages
}
