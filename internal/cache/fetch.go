package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// hop-by-hop and per-connection headers are never stored.
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Set-Cookie":        true,
	"Content-Length":    true,
}

// NewEntry captures a response whose body has already been read.
func NewEntry(resp *http.Response, body []byte) *Entry {
	header := make(http.Header, len(resp.Header))
	for k, v := range resp.Header {
		if skipHeaders[k] {
			continue
		}
		header[k] = append([]string(nil), v...)
	}
	return &Entry{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UnixMilli(),
	}
}

// WriteTo replays the entry as an HTTP response.
func (e *Entry) WriteTo(w http.ResponseWriter) {
	for k, v := range e.Header {
		for _, vv := range v {
			w.Header().Add(k, vv)
		}
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(e.Body)
}

// Add fetches path from origin and stores the response in gen. Only 2xx
// responses are stored.
func Add(ctx context.Context, b Backend, client *http.Client, origin, gen, path string) error {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(origin, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to fetch %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b.Put(ctx, gen, path, NewEntry(resp, body))
}
