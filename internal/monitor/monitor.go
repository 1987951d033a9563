package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"opsagent/internal/metrics"
	"opsagent/internal/models"
)

const defaultInterval = 30 * time.Second

// Prober runs one probe.
type Prober interface {
	Check(ctx context.Context, spec models.CheckSpec) models.CheckResult
}

// Recorder receives every probe result.
type Recorder interface {
	Record(host, name string, result models.CheckResult)
}

// Remediator is told about failed checks. It must not block.
type Remediator interface {
	Execute(check string, steps []models.RemediationStep)
}

// HistoryAppender keeps the results of completed cycles.
type HistoryAppender interface {
	Append(entry models.StatusEntry) error
}

// Scheduler periodically checks targets, records their state and triggers remediation.
type Scheduler struct {
	host        string
	interval    time.Duration
	checks      []models.CheckSpec
	prober      Prober
	store       Recorder
	remediator  Remediator
	history     HistoryAppender
	logger      hclog.Logger
	instruments *metrics.Instruments

	// lastUp is only touched by the goroutine running cycles.
	lastUp map[string]bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithHistory stores every completed cycle.
func WithHistory(h HistoryAppender) Option {
	return func(s *Scheduler) { s.history = h }
}

// WithLogger sets the scheduler logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInstruments records cycle durations.
func WithInstruments(i *metrics.Instruments) Option {
	return func(s *Scheduler) { s.instruments = i }
}

// New creates a scheduler for the given host, interval and checks.
func New(host string, interval time.Duration, checks []models.CheckSpec, prober Prober, store Recorder, remediator Remediator, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}

	s := &Scheduler{
		host:       host,
		interval:   interval,
		checks:     checks,
		prober:     prober,
		store:      store,
		remediator: remediator,
		logger:     hclog.NewNullLogger(),
		lastUp:     make(map[string]bool, len(checks)),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.doneCh)
		_ = s.Run(ctx)
	}()
}

// Stop cancels a loop started with Start and waits until it is done.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.doneCh
}

// Run executes cycles until ctx is cancelled. The interval is measured from the
// end of one cycle to the start of the next, so slow checks delay the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("monitor cycle failed", "error", err)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce executes every check once, in order, and returns the cycle entry.
// Cancellation is observed between checks only.
func (s *Scheduler) RunOnce(ctx context.Context) (models.StatusEntry, error) {
	started := time.Now()
	entry := models.StatusEntry{
		Timestamp: started.UTC(),
		Host:      s.host,
		Checks:    make([]models.CheckResult, 0, len(s.checks)),
	}

	for _, check := range s.checks {
		if err := ctx.Err(); err != nil {
			return entry, err
		}
		entry.Checks = append(entry.Checks, s.runCheck(ctx, check))
	}
	s.instruments.ObserveCycle(time.Since(started))

	if s.history != nil {
		if err := s.history.Append(entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

func (s *Scheduler) runCheck(ctx context.Context, check models.CheckSpec) models.CheckResult {
	result := s.prober.Check(ctx, check)
	result.Name = check.Name
	if result.LatencyMS < 0 {
		result.LatencyMS = 0
	}
	s.store.Record(s.host, check.Name, result)

	wasUp, seen := s.lastUp[check.Name]
	s.lastUp[check.Name] = result.Up

	if result.Up {
		s.logger.Info("check ok", "check", check.Name, "latency_ms", result.LatencyMS)
		if seen && !wasUp && check.NotifyRecovery {
			s.logger.Info("check recovered", "check", check.Name)
		}
		return result
	}

	s.logger.Warn("check failed", "check", check.Name, "latency_ms", result.LatencyMS,
		"failure", string(result.Failure), "error", result.Error)
	if s.remediator != nil && len(check.Remediation) > 0 {
		s.remediator.Execute(check.Name, check.Remediation)
	}
	return result
}

// IsStopped reports whether err only signals that the loop was cancelled.
func IsStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
