package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caravel-sh/caravel/pkg/config"
)

// MaxHistoryEntries caps the number of records kept per environment.
const MaxHistoryEntries = 50

// FileStore persists deployment history as a JSON array. Timestamps
// round-trip as RFC 3339 strings, and unknown fields written by newer
// versions are ignored on load.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the history file. A missing or unparseable file is never
// fatal at startup: it yields an empty history and a warning.
func (s *FileStore) Load() ([]*Deployment, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Deployment{}, nil
		}
		s.logger.Warn("failed to read deployment history, starting empty",
			"path", s.path, "error", err)
		return []*Deployment{}, nil
	}

	var deployments []*Deployment
	if err := json.Unmarshal(data, &deployments); err != nil {
		s.logger.Warn("deployment history is corrupt, starting empty",
			"path", s.path, "error", err)
		return []*Deployment{}, nil
	}

	return deployments, nil
}

// Save writes the full record list, creating parent directories as needed.
// The write goes through a temp file and rename; good enough for a single
// process, not transactional across crashes.
func (s *FileStore) Save(deployments []*Deployment) error {
	deployments = prune(deployments)

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(deployments, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize deployment history: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write deployment history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace deployment history: %w", err)
	}

	return nil
}

// prune drops the oldest records of an environment once it exceeds
// MaxHistoryEntries, preserving the relative order of the rest.
func prune(deployments []*Deployment) []*Deployment {
	counts := make(map[config.Environment]int)
	for _, d := range deployments {
		counts[d.Config.Environment]++
	}

	over := false
	for _, n := range counts {
		if n > MaxHistoryEntries {
			over = true
			break
		}
	}
	if !over {
		return deployments
	}

	// Walk newest first, keep up to the cap per environment.
	sorted := make([]*Deployment, len(deployments))
	copy(sorted, deployments)
	SortByStartTimeDesc(sorted)

	kept := make(map[string]bool, len(sorted))
	perEnv := make(map[config.Environment]int)
	for _, d := range sorted {
		if perEnv[d.Config.Environment] < MaxHistoryEntries {
			perEnv[d.Config.Environment]++
			kept[d.ID] = true
		}
	}

	result := deployments[:0:0]
	for _, d := range deployments {
		if kept[d.ID] {
			result = append(result, d)
		}
	}
	return result
}
