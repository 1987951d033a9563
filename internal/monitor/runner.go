package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"opsagent/internal/models"
)

// DefaultTimeout is the hard limit for a single probe.
const DefaultTimeout = 5 * time.Second

// drain limit keeps pooled connections reusable without reading huge bodies.
const drainLimit = 64 << 10

// Runner executes one HTTP probe and classifies the outcome.
type Runner struct {
	client  *http.Client
	timeout time.Duration
}

// NewRunner creates a probe runner. A nil client falls back to a pooled client
// and a non-positive timeout to DefaultTimeout.
func NewRunner(client *http.Client, timeout time.Duration) *Runner {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{client: client, timeout: timeout}
}

// Timeout reports the probe deadline.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Check performs a single GET against spec.URL. The probe is up only when the
// response status equals spec.ExpectStatus exactly. There are no retries.
// Cancelling ctx does not interrupt a probe that has already started.
func (r *Runner) Check(ctx context.Context, spec models.CheckSpec) models.CheckResult {
	start := time.Now()
	res := models.CheckResult{
		Name:      spec.Name,
		CheckedAt: start.UTC(),
	}

	// Shutdown does not abort a started request; only its own deadline ends it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return r.fail(res, start, models.FailureConnection, fmt.Sprintf("connection error: %v", err))
	}
	req.Header.Set("User-Agent", "opsagent/1.0")

	response, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return r.fail(res, start, models.FailureTimeout, fmt.Sprintf("request timed out after %s", r.timeout))
		}
		return r.fail(res, start, models.FailureConnection, fmt.Sprintf("connection error: %v", err))
	}
	res.LatencyMS = time.Since(start).Milliseconds()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, drainLimit))
	_ = response.Body.Close()

	res.StatusCode = response.StatusCode
	if response.StatusCode != spec.ExpectStatus {
		res.Failure = models.FailureStatus
		res.Error = fmt.Sprintf("expected status %d, got %d", spec.ExpectStatus, response.StatusCode)
		return res
	}
	res.Up = true
	return res
}

func (r *Runner) fail(res models.CheckResult, start time.Time, kind models.FailureKind, msg string) models.CheckResult {
	res.LatencyMS = time.Since(start).Milliseconds()
	res.Up = false
	res.Failure = kind
	res.Error = msg
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
