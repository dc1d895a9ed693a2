// Package schema defines the records kept in the local catalog mirror.
//
// Field names and JSON tags follow the remote catalog wire format, so a
// record fetched from the server can be stored as-is. Timestamps are opaque
// server strings: they are only ever compared for equality, never parsed.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Song is the catalog metadata for one song. It never carries lyrics.
type Song struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Slug       string  `json:"slug"`
	KeyChord   string  `json:"key_chord"`
	TypeID     int64   `json:"type_id"`
	TypeName   string  `json:"type_name"`
	TopicID    *int64  `json:"topic_id"`
	TopicName  *string `json:"topic_name"`
	Tempo      *int    `json:"tempo"`
	FirstLyric string  `json:"first_lyric"`
	Chorus     string  `json:"chorus"`
	CreatedAt  string  `json:"created_date"`
	UpdatedAt  string  `json:"updated_date"`
}

// Key returns the store key for the song.
func (s *Song) Key() string {
	return SongKey(s.ID)
}

// Validate checks that the record can be stored.
func (s *Song) Validate() error {
	if s.ID <= 0 {
		return fmt.Errorf("id must be positive (got %d)", s.ID)
	}
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// IsUnmodified reports whether the server has never edited the record,
// i.e. created and updated timestamps are identical.
func (s *Song) IsUnmodified() bool {
	return s.CreatedAt == s.UpdatedAt
}

// SongDetail is a Song plus its full chord-annotated text.
//
// A detail is fresh only while its UpdatedAt equals the UpdatedAt of the
// metadata record with the same id.
type SongDetail struct {
	Song
	Lyric    string `json:"lyric"`
	LinkSong string `json:"link_song,omitempty"`

	// CachedAt is set locally (unix milliseconds) when the detail is stored.
	CachedAt int64 `json:"cached_at,omitempty"`
}

// IsStale reports whether the detail no longer matches meta.
func (d *SongDetail) IsStale(meta *Song) bool {
	return d.UpdatedAt != meta.UpdatedAt
}

// Favorite is a locally bookmarked song, stored as a copy of its metadata.
type Favorite = Song

// SongKey formats a song id as a store key.
func SongKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseSongKey is the inverse of SongKey.
func ParseSongKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid song key %q: %w", key, err)
	}
	return id, nil
}

// DecodeSong unmarshals a stored song record.
func DecodeSong(raw json.RawMessage) (*Song, error) {
	var s Song
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode song: %w", err)
	}
	return &s, nil
}

// DecodeSongDetail unmarshals a stored detail record.
func DecodeSongDetail(raw json.RawMessage) (*SongDetail, error) {
	var d SongDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode song detail: %w", err)
	}
	return &d, nil
}
