package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsagent/internal/models"
)

func entryAt(ts time.Time, up bool) models.StatusEntry {
	return models.StatusEntry{
		Timestamp: ts,
		Host:      "h",
		Checks:    []models.CheckResult{{Name: "api", Up: up, LatencyMS: 5}},
	}
}

func TestStatusStorage_MemoryOnly(t *testing.T) {
	t.Parallel()

	s, err := NewStatusStorage("", 2)
	require.NoError(t, err)

	_, ok := s.Latest()
	require.False(t, ok)
	require.Empty(t, s.History())

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(entryAt(base.Add(time.Duration(i)*time.Minute), i%2 == 0)))
	}

	history := s.History()
	require.Len(t, history, 2)
	require.Equal(t, base.Add(time.Minute), history[0].Timestamp)

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, base.Add(2*time.Minute), latest.Timestamp)

	require.Len(t, s.HistoryN(1), 1)
	require.Len(t, s.HistoryN(10), 2)
}

func TestStatusStorage_PersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", HistoryFile)
	s, err := NewStatusStorage(path, 0)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(entryAt(base, true)))
	require.NoError(t, s.Append(entryAt(base.Add(time.Minute), false)))
	require.FileExists(t, path)

	reloaded, err := NewStatusStorage(path, 1)
	require.NoError(t, err)
	history := reloaded.History()
	require.Len(t, history, 1)
	require.False(t, history[0].Checks[0].Up)

	matches, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestStatusStorage_HistoryIsACopy(t *testing.T) {
	t.Parallel()

	s, err := NewStatusStorage("", 0)
	require.NoError(t, err)
	require.NoError(t, s.Append(entryAt(time.Now(), true)))

	history := s.History()
	history[0].Host = "mutated"
	require.Equal(t, "h", s.History()[0].Host)
}

func TestStatusStorage_LoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	s, err := NewStatusStorage(empty, 0)
	require.NoError(t, err)
	require.Empty(t, s.History())

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, err = NewStatusStorage(corrupt, 0)
	require.ErrorContains(t, err, "parse history")
}
