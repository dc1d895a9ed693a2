package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxPageSize bounds how much of the app page is scanned for assets.
const maxPageSize = 4 << 20

// assetsInPage returns the same-origin /static/ paths an HTML page loads:
// script sources, stylesheets and preload links. Order follows the page
// and duplicates are dropped.
func assetsInPage(r io.Reader, origin *url.URL) []string {
	z := html.NewTokenizer(r)
	seen := make(map[string]bool)
	var out []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			var ref string
			switch tok.DataAtom {
			case atom.Script:
				ref = attr(tok, "src")
			case atom.Link:
				href := attr(tok, "href")
				rels := strings.Fields(strings.ToLower(attr(tok, "rel")))
				if hasField(rels, "preload") || hasField(rels, "stylesheet") || strings.Contains(href, ".css") {
					ref = href
				}
			}
			if p, ok := staticPath(ref, origin); ok && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

// staticPath resolves ref against the site root and keeps it only if it
// stays on origin and lives under a static directory.
func staticPath(ref string, origin *url.URL) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host != "" && u.Host != origin.Host {
		return "", false
	}
	p := (&url.URL{Path: "/"}).ResolveReference(u).Path
	if !strings.Contains(p, "/static/") {
		return "", false
	}
	return p, true
}

// missingAssets scans the app page on the origin and returns the static
// assets it references that gen does not hold yet.
func (s *Server) missingAssets(ctx context.Context, gen string) ([]string, error) {
	page := strings.TrimRight(s.config.Origin, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch app page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch app page: status %d", resp.StatusCode)
	}

	assets := assetsInPage(io.LimitReader(resp.Body, maxPageSize), s.origin)
	if len(assets) == 0 {
		return nil, nil
	}

	cached, err := s.config.Backend.Entries(ctx, gen)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cached))
	for _, key := range cached {
		have[key] = true
	}
	var missing []string
	for _, a := range assets {
		if !have[a] {
			missing = append(missing, a)
		}
	}
	return missing, nil
}
