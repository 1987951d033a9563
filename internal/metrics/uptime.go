package metrics

import (
	"math"
	"sort"
	"time"

	"opsagent/internal/models"
)

// CheckUptime summarises the health of one check over retained history.
type CheckUptime struct {
	Name          string  `json:"name"`
	UptimePercent float64 `json:"uptime_percent"`
	TotalChecks   int     `json:"total_checks"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	LastState     string  `json:"last_state,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}

// ComputeCheckUptime aggregates pass/fail counts per check from history entries.
func ComputeCheckUptime(entries []models.StatusEntry) []CheckUptime {
	type acc struct {
		passing   int
		failing   int
		lastUp    bool
		lastError string
		lastTime  time.Time
	}
	state := make(map[string]*acc)
	for _, entry := range entries {
		for _, check := range entry.Checks {
			target := state[check.Name]
			if target == nil {
				target = &acc{}
				state[check.Name] = target
			}
			if check.Up {
				target.passing++
			} else {
				target.failing++
			}
			if !entry.Timestamp.Before(target.lastTime) {
				target.lastUp = check.Up
				target.lastError = check.Error
				target.lastTime = entry.Timestamp
			}
		}
	}
	if len(state) == 0 {
		return nil
	}

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckUptime, 0, len(names))
	for _, name := range names {
		data := state[name]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}

		result := CheckUptime{
			Name:          name,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			LastState:     stateLabel(data.lastUp),
			LastError:     data.lastError,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func stateLabel(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
