package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/cache"
)

// shellPath is served for navigations the origin cannot answer.
const shellPath = "/index.html"

const offlinePage = `<!DOCTYPE html>
<html>
<head>
  <title>Chordbook - Offline</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; text-align: center; padding: 50px; }
    .offline-message { color: #666; margin-bottom: 20px; }
    .retry-button { background: #007AFF; color: white; border: none; padding: 12px 24px; border-radius: 8px; font-size: 16px; }
  </style>
</head>
<body>
  <h1>Chordbook</h1>
  <p class="offline-message">You are offline. The app will reconnect automatically when the network returns.</p>
  <button class="retry-button" onclick="window.location.reload()">Retry</button>
  <script>window.addEventListener('online', () => window.location.reload());</script>
</body>
</html>
`

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// isNavigation reports whether r loads a page rather than a resource.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// sameOrigin reports whether r targets the origin. Requests addressed to
// the proxy by path alone always do.
func (s *Server) sameOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return true
	}
	return r.URL.Scheme == s.origin.Scheme && r.URL.Host == s.origin.Host
}

// cacheKey is the path and query of r.
func cacheKey(r *http.Request) string {
	key := r.URL.Path
	if key == "" {
		key = "/"
	}
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !s.sameOrigin(r) {
		s.passThrough(w, r)
		return
	}

	key := cacheKey(r)
	resp, body, err := s.fetch(r.Context(), r, key)
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		entry := cache.NewEntry(resp, body)
		if perr := s.config.Backend.Put(r.Context(), s.DynamicGeneration(), key, entry); perr != nil {
			s.logger.Debug("not cached", zap.String("key", key), zap.Error(perr))
		}
		entry.WriteTo(w)
		return
	}
	if err != nil {
		s.logger.Debug("origin unreachable", zap.String("key", key), zap.Error(err))
	}

	if isNavigation(r) {
		s.serveShell(w, r, resp, body)
		return
	}

	if cached, ok, _ := s.config.Backend.MatchAny(r.Context(), key); ok {
		cached.WriteTo(w)
		return
	}
	if resp != nil {
		cache.NewEntry(resp, body).WriteTo(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "No network and not cached"})
}

// serveShell answers a navigation the origin did not serve: the cached app
// shell if there is one, else the origin's own error response, else a
// generated offline page.
func (s *Server) serveShell(w http.ResponseWriter, r *http.Request, resp *http.Response, body []byte) {
	if shell, ok, _ := s.config.Backend.MatchAny(r.Context(), shellPath); ok {
		shell.WriteTo(w)
		return
	}
	if resp != nil {
		cache.NewEntry(resp, body).WriteTo(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, offlinePage)
}

// fetch requests key from the origin and reads the whole body.
func (s *Server) fetch(ctx context.Context, r *http.Request, key string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.config.Origin, "/")+key, nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, r.Header)
	// A 304 cannot be cached or replayed.
	req.Header.Del("If-None-Match")
	req.Header.Del("If-Modified-Since")

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// passThrough forwards r without touching the caches.
func (s *Server) passThrough(w http.ResponseWriter, r *http.Request) {
	target := r.URL.String()
	if !r.URL.IsAbs() {
		target = strings.TrimRight(s.config.Origin, "/") + cacheKey(r)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copyHeaders(req.Header, r.Header)
	req.ContentLength = r.ContentLength

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
