package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsagent/internal/models"
)

func TestComputeCheckUptime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []models.StatusEntry{
		{Timestamp: base, Checks: []models.CheckResult{
			{Name: "api", Up: true},
			{Name: "db", Up: false, Error: "timeout"},
		}},
		{Timestamp: base.Add(time.Minute), Checks: []models.CheckResult{
			{Name: "api", Up: false, Error: "expected status 200, got 500"},
			{Name: "db", Up: true},
		}},
		{Timestamp: base.Add(2 * time.Minute), Checks: []models.CheckResult{
			{Name: "api", Up: true},
		}},
	}

	got := ComputeCheckUptime(entries)
	require.Len(t, got, 2)

	require.Equal(t, "api", got[0].Name)
	require.Equal(t, 3, got[0].TotalChecks)
	require.Equal(t, 2, got[0].Passing)
	require.Equal(t, 1, got[0].Failing)
	require.Equal(t, 66.67, got[0].UptimePercent)
	require.Equal(t, "up", got[0].LastState)
	require.Empty(t, got[0].LastError)
	require.Equal(t, base.Add(2*time.Minute).Format(time.RFC3339), got[0].LastUpdated)

	require.Equal(t, "db", got[1].Name)
	require.Equal(t, 50.0, got[1].UptimePercent)
	require.Equal(t, "up", got[1].LastState)
}

func TestComputeCheckUptime_Empty(t *testing.T) {
	t.Parallel()

	require.Nil(t, ComputeCheckUptime(nil))
	require.Nil(t, ComputeCheckUptime([]models.StatusEntry{{Timestamp: time.Now()}}))
}
