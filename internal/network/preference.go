package network

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// preferenceFile is the on-disk shape of the persisted preference.
type preferenceFile struct {
	SyncPreference string `toml:"sync_preference"`
}

// loadPreference reads the preference file. A missing or unreadable file,
// or an invalid value, yields DefaultPreference.
func loadPreference(path string) (Preference, error) {
	if path == "" {
		return DefaultPreference, nil
	}
	var f preferenceFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return DefaultPreference, nil
		}
		return DefaultPreference, fmt.Errorf("failed to read preference file: %w", err)
	}
	p, err := ParsePreference(f.SyncPreference)
	if err != nil {
		return DefaultPreference, err
	}
	return p, nil
}

// savePreference writes p atomically (temp file + rename).
func savePreference(path string, p Preference) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create preference directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(preferenceFile{SyncPreference: string(p)}); err != nil {
		return fmt.Errorf("failed to encode preference: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write preference file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace preference file: %w", err)
	}
	return nil
}
