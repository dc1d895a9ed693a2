// Package catalog is the HTTP client for the remote song catalog.
//
// The catalog exposes two read endpoints: a summary (total record count and
// the newest update timestamp) and a sync endpoint returning metadata or,
// with full=true, full detail records. An optional favorites endpoint
// accepts favorite changes replayed from the local outbox.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chordbook/chordsync/internal/logging"
	"github.com/chordbook/chordsync/internal/schema"
)

// Summary describes the remote catalog as a whole.
type Summary struct {
	TotalCount  int    `json:"total_count"`
	LastUpdated string `json:"last_updated"`
}

// SyncParams selects what the sync endpoint returns.
type SyncParams struct {
	// Since restricts results to records updated after this server
	// timestamp. Empty means everything.
	Since string

	// IDs restricts results to these songs.
	IDs []int64

	// Full requests detail records (with lyrics).
	Full bool

	// Force, when non-zero, asks the server to bypass its own caches.
	Force int64
}

// Values encodes p as query parameters.
func (p SyncParams) Values() url.Values {
	v := url.Values{}
	if p.Since != "" {
		v.Set("since", p.Since)
	}
	if len(p.IDs) > 0 {
		ids := make([]string, len(p.IDs))
		for i, id := range p.IDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		v.Set("ids", strings.Join(ids, ","))
	}
	if p.Full {
		v.Set("full", "true")
	}
	if p.Force != 0 {
		v.Set("force", strconv.FormatInt(p.Force, 10))
	}
	return v
}

// envelope is the common response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	SummaryPath   string
	SyncPath      string
	FavoritesPath string
	Timeout       time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the remote catalog.
type Client struct {
	config *Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a Client. Paths default to the public catalog layout.
func New(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	if config.SummaryPath == "" {
		config.SummaryPath = "/api/songs/count"
	}
	if config.SyncPath == "" {
		config.SyncPath = "/api/songs/sync"
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		config: config,
		http:   httpClient,
		logger: logging.OrNop(config.Logger).Named("catalog"),
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do executes req and decodes the success envelope into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("catalog request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "success=false"
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: failed to decode data: %v", ErrUnavailable, err)
	}
	return nil
}

// Summary fetches the catalog summary.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.config.SummaryPath, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build summary request: %w", err)
	}
	var s Summary
	if err := c.do(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sync fetches metadata records.
func (c *Client) Sync(ctx context.Context, params SyncParams) ([]schema.Song, error) {
	params.Full = false
	var songs []schema.Song
	if err := c.get(ctx, params, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

// SyncDetails fetches full detail records for ids.
func (c *Client) SyncDetails(ctx context.Context, ids []int64, force int64) ([]schema.SongDetail, error) {
	var details []schema.SongDetail
	if err := c.get(ctx, SyncParams{IDs: ids, Full: true, Force: force}, &details); err != nil {
		return nil, err
	}
	return details, nil
}

func (c *Client) get(ctx context.Context, params SyncParams, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.config.SyncPath, params.Values()), nil)
	if err != nil {
		return fmt.Errorf("failed to build sync request: %w", err)
	}
	return c.do(req, out)
}

// PushFavorite replays one outbox operation. Adds are POSTed with the song
// as body; removes are DELETEs on <favorites_path>/<id>.
func (c *Client) PushFavorite(ctx context.Context, op schema.QueuedOperation) error {
	if c.config.FavoritesPath == "" {
		return ErrNoFavoritesEndpoint
	}

	var req *http.Request
	var err error
	switch op.Operation {
	case schema.OpAddFavorite:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint(c.config.FavoritesPath, nil), bytes.NewReader(op.Payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	case schema.OpRemoveFavorite:
		var ref struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(op.Payload, &ref); err != nil {
			return fmt.Errorf("invalid remove payload: %w", err)
		}
		path := strings.TrimRight(c.config.FavoritesPath, "/") + "/" + strconv.FormatInt(ref.ID, 10)
		req, err = http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(path, nil), nil)
	default:
		return fmt.Errorf("unsupported operation %q", op.Operation)
	}
	if err != nil {
		return fmt.Errorf("failed to build favorites request: %w", err)
	}
	return c.do(req, nil)
}

// HasFavoritesEndpoint reports whether outbox replay is possible.
func (c *Client) HasFavoritesEndpoint() bool {
	return c.config.FavoritesPath != ""
}
