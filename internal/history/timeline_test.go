package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsagent/internal/models"
)

func TestBuildCheckTimelines(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return start.Add(time.Duration(min) * time.Minute) }

	entries := []models.StatusEntry{
		{Timestamp: at(0), Checks: []models.CheckResult{
			{Name: "db", Up: true, CheckedAt: at(0)},
			{Name: "API", Up: true, CheckedAt: at(0)},
		}},
		{Timestamp: at(1), Checks: []models.CheckResult{
			{Name: "db", Up: false, Failure: models.FailureTimeout, Error: "request timed out after 5s", CheckedAt: at(1)},
		}},
		{Timestamp: at(2), Checks: []models.CheckResult{
			{Name: "db", Up: false, Failure: models.FailureStatus, Error: "expected status 200, got 500"},
		}},
	}

	got := BuildCheckTimelines(entries, start, at(4), 4)
	require.Len(t, got, 2)
	require.Equal(t, "API", got[0].Name)
	require.Equal(t, "db", got[1].Name)

	api := got[0].Timeline
	require.Len(t, api, 4)
	require.Equal(t, StateUp, api[0].State)
	require.Equal(t, StateMissing, api[1].State)

	db := got[1].Timeline
	require.Equal(t, StateUp, db[0].State)
	require.Equal(t, StateDown, db[1].State)
	require.Len(t, db[1].Details, 1)
	require.Equal(t, models.FailureTimeout, db[1].Details[0].Failure)
	require.Equal(t, StateDown, db[2].State, "falls back to entry timestamp")
	require.Equal(t, StateMissing, db[3].State)
	require.True(t, db[3].End.Equal(at(4)))
}

func TestBuildCheckTimelines_Degraded(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var entries []models.StatusEntry
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		entries = append(entries, models.StatusEntry{Timestamp: ts, Checks: []models.CheckResult{
			{Name: "api", Up: i%2 == 0, Error: "connection error", CheckedAt: ts},
		}})
	}

	got := BuildCheckTimelines(entries, start, start.Add(time.Minute), 1)
	require.Len(t, got, 1)
	point := got[0].Timeline[0]
	require.Equal(t, StateDegraded, point.State)
	require.Len(t, point.Details, maxDetailsPerPoint)
}

func TestBuildCheckTimelines_Empty(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.Nil(t, BuildCheckTimelines(nil, start, start, 0))

	got := BuildCheckTimelines([]models.StatusEntry{{
		Timestamp: start,
		Checks:    []models.CheckResult{{Name: "api", Up: true}},
	}}, start, start, 0)
	require.Len(t, got, 1)
	require.Len(t, got[0].Timeline, DefaultTimelinePoints)
}

func TestBuildCheckTimelines_TinyWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Nanosecond)
	entries := []models.StatusEntry{{
		Timestamp: start,
		Checks:    []models.CheckResult{{Name: "api", Up: true, CheckedAt: start}},
	}}

	got := BuildCheckTimelines(entries, start, end, 500)
	require.Len(t, got, 1)
	points := got[0].Timeline
	require.Len(t, points, 3)
	require.Equal(t, StateUp, points[0].State)
	for i, p := range points {
		require.True(t, p.End.After(p.Start), "point %d", i)
		require.False(t, p.End.After(end), "point %d", i)
	}
	require.True(t, points[len(points)-1].End.Equal(end))
}
