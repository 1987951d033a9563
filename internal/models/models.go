package models

import (
	"time"
)

// ActionCommand is the only remediation action the agent executes.
const ActionCommand = "command"

// CheckTypeHTTP is the only supported check type.
const CheckTypeHTTP = "http"

// CheckSpec defines a monitored HTTP endpoint and what to do when it fails.
type CheckSpec struct {
	Name           string            `yaml:"name" toml:"name" json:"name"`
	Type           string            `yaml:"type" toml:"type" json:"type,omitempty"`
	URL            string            `yaml:"url" toml:"url" json:"url"`
	ExpectStatus   int               `yaml:"expect_status" toml:"expect_status" json:"expect_status"`
	Remediation    []RemediationStep `yaml:"remediation" toml:"remediation" json:"remediation,omitempty"`
	NotifyRecovery bool              `yaml:"notify_recovery" toml:"notify_recovery" json:"notify_recovery,omitempty"`
}

// RemediationStep is a single action run when its check fails.
type RemediationStep struct {
	Action  string `yaml:"action" toml:"action" json:"action"`
	Command string `yaml:"cmd" toml:"cmd" json:"cmd"`
}

// FailureKind classifies why a probe failed.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureConnection FailureKind = "connection"
	FailureTimeout    FailureKind = "timeout"
	FailureStatus     FailureKind = "status"
)

// CheckResult captures the outcome of a single probe.
type CheckResult struct {
	Name       string      `json:"name"`
	Up         bool        `json:"up"`
	StatusCode int         `json:"status_code,omitempty"`
	LatencyMS  int64       `json:"latency_ms"`
	Failure    FailureKind `json:"failure,omitempty"`
	Error      string      `json:"error,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// StatusEntry stores the results of all checks of one cycle.
type StatusEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Host      string        `json:"host"`
	Checks    []CheckResult `json:"checks"`
}

// MetricsEntry is the last known state of one (host, check) pair.
type MetricsEntry struct {
	Host          string    `json:"host"`
	Name          string    `json:"name"`
	Up            int       `json:"up"`
	LastLatencyMS int64     `json:"last_ms"`
	FailTotal     uint64    `json:"fail_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CheckTimeline is the bucketed up/down history of one check.
type CheckTimeline struct {
	Name     string          `json:"name"`
	Timeline []TimelinePoint `json:"timeline"`
}

// TimelinePoint summarises one time bucket.
type TimelinePoint struct {
	State   string           `json:"state"`
	Label   string           `json:"label"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Details []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail is one failed probe inside a bucket.
type TimelineDetail struct {
	Timestamp time.Time   `json:"timestamp"`
	Failure   FailureKind `json:"failure,omitempty"`
	Error     string      `json:"error,omitempty"`
}
