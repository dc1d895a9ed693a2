// Package cachectl lets the app ask the background proxy to manage its
// response caches, and falls back to managing them directly when no proxy
// answers.
package cachectl

import "encoding/json"

// MessageType identifies a control message.
type MessageType string

// Requests and their responses.
const (
	TypeClearAllCaches   MessageType = "CLEAR_ALL_CACHES"
	TypeCachesCleared    MessageType = "CACHES_CLEARED"
	TypeCacheUpdate      MessageType = "CACHE_UPDATE"
	TypeCacheUpdated     MessageType = "CACHE_UPDATE_COMPLETE"
	TypePreloadResources MessageType = "PRELOAD_CRITICAL_RESOURCES"
	TypePreloadComplete  MessageType = "PRELOAD_COMPLETE"
)

// Fire-and-forget messages.
const (
	TypeSkipWaiting MessageType = "SKIP_WAITING"
	TypeNavigateTo  MessageType = "NAVIGATE_TO"
	TypeCurrentPage MessageType = "CURRENT_PAGE"
)

// Messages the proxy pushes to pages.
const (
	TypeNavigateToURL  MessageType = "NAVIGATE_TO_URL"
	TypeProxyActivated MessageType = "PROXY_ACTIVATED"
	TypeSyncComplete   MessageType = "SYNC_COMPLETE"
)

// Message is the envelope for every control message in both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	URL     string          `json:"url,omitempty"`
	Success bool            `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PreloadData is carried by PRELOAD_COMPLETE.
type PreloadData struct {
	Cached int `json:"cached"`
	Total  int `json:"total"`
}

// ResponseType returns the response expected for a request type, or "" if
// the type expects no response.
func ResponseType(t MessageType) MessageType {
	switch t {
	case TypeClearAllCaches:
		return TypeCachesCleared
	case TypeCacheUpdate:
		return TypeCacheUpdated
	case TypePreloadResources:
		return TypePreloadComplete
	default:
		return ""
	}
}
