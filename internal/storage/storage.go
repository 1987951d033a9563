package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"opsagent/internal/models"
)

// HistoryFile is the file name used inside the data directory.
const HistoryFile = "status_history.json"

// StatusStorage keeps a bounded history of cycle results. When path is set
// every append is persisted to disk, otherwise history lives in memory only.
type StatusStorage struct {
	mu      sync.RWMutex
	path    string
	limit   int
	history []models.StatusEntry
}

// NewStatusStorage creates a storage instance and loads existing history if present.
// An empty path keeps history in memory. limit <= 0 keeps everything.
func NewStatusStorage(path string, limit int) (*StatusStorage, error) {
	s := &StatusStorage{path: path, limit: limit}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.trimLocked()
	return s, nil
}

// Append adds a new status entry and persists it to disk.
func (s *StatusStorage) Append(entry models.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	s.trimLocked()
	if s.path == "" {
		return nil
	}
	return s.persist()
}

// Latest returns the latest status entry if it exists.
func (s *StatusStorage) Latest() (models.StatusEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return models.StatusEntry{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the entire history slice.
func (s *StatusStorage) History() []models.StatusEntry {
	return s.HistoryN(0)
}

// HistoryN returns a copy of the newest n entries, or all of them when n <= 0.
func (s *StatusStorage) HistoryN(n int) []models.StatusEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	copied := make([]models.StatusEntry, len(s.history)-start)
	copy(copied, s.history[start:])
	return copied
}

func (s *StatusStorage) trimLocked() {
	if s.limit > 0 && len(s.history) > s.limit {
		s.history = append([]models.StatusEntry(nil), s.history[len(s.history)-s.limit:]...)
	}
}

func (s *StatusStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.history = []models.StatusEntry{}
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}

	if len(data) == 0 {
		s.history = []models.StatusEntry{}
		return nil
	}

	var entries []models.StatusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse history: %w", err)
	}

	s.history = entries
	return nil
}

func (s *StatusStorage) persist() error {
	bytes, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}
