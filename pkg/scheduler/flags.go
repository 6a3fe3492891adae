package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sigs.k8s.io/yaml"
)

// Flags is the content of the review flag file.
type Flags struct {
	Enabled    bool   `json:"enabled"`
	ReviewTime string `json:"reviewTime"`
	// LastRunDate is the local date (YYYY-MM-DD) of the last successful trigger.
	LastRunDate string `json:"lastRunDate,omitempty"`
}

// FlagStore persists Flags.
type FlagStore interface {
	Load() (Flags, error)
	Save(Flags) error
}

// FileFlagStore keeps Flags in a JSON file shared with the frontend. Keys it
// does not know are preserved on Save.
type FileFlagStore struct {
	path string
	mu   sync.Mutex
}

func NewFileFlagStore(path string) *FileFlagStore {
	return &FileFlagStore{path: path}
}

// Load reads the flag file. A missing file means the review is disabled.
func (s *FileFlagStore) Load() (Flags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flags Flags
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return flags, nil
	}
	if err != nil {
		return flags, fmt.Errorf("reading review flag file %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(content, &flags); err != nil {
		return flags, fmt.Errorf("parsing review flag file %s: %w", s.path, err)
	}
	return flags, nil
}

// Save writes flags through a temporary file and rename so readers never see
// a partial document.
func (s *FileFlagStore) Save(flags Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := map[string]any{}
	if content, err := os.ReadFile(s.path); err == nil && len(content) > 0 {
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return fmt.Errorf("parsing review flag file %s: %w", s.path, err)
		}
	}
	raw["enabled"] = flags.Enabled
	raw["reviewTime"] = flags.ReviewTime
	if flags.LastRunDate != "" {
		raw["lastRunDate"] = flags.LastRunDate
	} else {
		delete(raw, "lastRunDate")
	}

	content, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".review-flags-*")
	if err != nil {
		return fmt.Errorf("creating temporary flag file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}

	if _, err := tmp.Write(append(content, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temporary flag file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing review flag file %s: %w", s.path, err)
	}
	return nil
}
