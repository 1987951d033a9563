package history

import (
	"sort"
	"strings"
	"time"

	"opsagent/internal/models"
)

const (
	// DefaultTimelinePoints controls how many buckets we generate per check.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4
)

const (
	StateUp       = "up"
	StateDown     = "down"
	StateDegraded = "degraded"
	StateMissing  = "missing"
)

type sample struct {
	Timestamp time.Time
	Up        bool
	Failure   models.FailureKind
	Error     string
}

// BuildCheckTimelines converts a history series into compact per-check timelines
// covering [start, end). Checks are ordered by name, case-insensitively.
func BuildCheckTimelines(entries []models.StatusEntry, start, end time.Time, points int) []models.CheckTimeline {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}
	// Every bucket must be at least 1ns wide so the buckets tile [start, end).
	if span := end.Sub(start); time.Duration(points) > span {
		points = int(span)
	}

	samples := make(map[string][]sample)
	for _, entry := range entries {
		for _, check := range entry.Checks {
			if check.Name == "" {
				continue
			}
			ts := check.CheckedAt
			if ts.IsZero() {
				ts = entry.Timestamp
			}
			samples[check.Name] = append(samples[check.Name], sample{
				Timestamp: ts,
				Up:        check.Up,
				Failure:   check.Failure,
				Error:     check.Error,
			})
		}
	}
	if len(samples) == 0 {
		return nil
	}

	names := make([]string, 0, len(samples))
	for name := range samples {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	result := make([]models.CheckTimeline, 0, len(names))
	for _, name := range names {
		result = append(result, models.CheckTimeline{
			Name:     name,
			Timeline: buildTimeline(samples[name], start, end, points),
		})
	}
	return result
}

func buildTimeline(samples []sample, start, end time.Time, points int) []models.TimelinePoint {
	output := make([]models.TimelinePoint, 0, points)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)

	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		var bucket []sample
		bucket, cursor = collectBucketSamples(samples, bucketStart, bucketEnd, cursor)
		state, label, details := evaluateBucket(bucket)
		output = append(output, models.TimelinePoint{
			State:   state,
			Label:   label,
			Start:   bucketStart,
			End:     bucketEnd,
			Details: details,
		})
	}
	return output
}

func collectBucketSamples(samples []sample, start, end time.Time, cursor int) ([]sample, int) {
	total := len(samples)
	if total == 0 || cursor >= total {
		return nil, cursor
	}

	i := cursor
	for i < total && samples[i].Timestamp.Before(start) {
		i++
	}
	j := i
	for j < total && samples[j].Timestamp.Before(end) {
		j++
	}
	if i >= j {
		return nil, j
	}
	return samples[i:j], j
}

func evaluateBucket(bucket []sample) (state, label string, details []models.TimelineDetail) {
	if len(bucket) == 0 {
		return StateMissing, "No data", nil
	}

	var up, down int
	for _, s := range bucket {
		if s.Up {
			up++
			continue
		}
		down++
		if len(details) < maxDetailsPerPoint {
			details = append(details, models.TimelineDetail{
				Timestamp: s.Timestamp,
				Failure:   s.Failure,
				Error:     s.Error,
			})
		}
	}

	switch {
	case down == 0:
		return StateUp, "Operational", nil
	case up == 0:
		return StateDown, "Unavailable", details
	default:
		return StateDegraded, "Partially unavailable", details
	}
}
