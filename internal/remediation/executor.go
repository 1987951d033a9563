package remediation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"opsagent/internal/metrics"
	"opsagent/internal/models"
)

const (
	defaultTimeout = 2 * time.Minute
	outputLimit    = 4096
)

// CommandRunner executes one remediation command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// ShellRunner runs commands through a login shell, the way an operator would.
type ShellRunner struct {
	Shell string
	Args  []string
}

// DefaultShell mirrors `bash -lc <cmd>`.
func DefaultShell() ShellRunner {
	return ShellRunner{Shell: "bash", Args: []string{"-lc"}}
}

// Run implements CommandRunner. Only the tail of the output is retained.
func (r ShellRunner) Run(ctx context.Context, command string) ([]byte, error) {
	shell := r.Shell
	if shell == "" {
		shell = "bash"
	}
	args := append(append([]string(nil), r.Args...), command)

	buf, err := circbuf.NewBuffer(outputLimit)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.WaitDelay = time.Second
	err = cmd.Run()
	if ctx.Err() != nil && err != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return buf.Bytes(), err
}

// Outcome describes one executed remediation step. It is logged and discarded.
type Outcome struct {
	Check    string
	Step     int
	Command  string
	Output   string
	Duration time.Duration
	Err      error
}

// Executor runs remediation steps for failed checks in the background.
// Steps of one check run in order; a check never has two remediations in flight.
type Executor struct {
	runner      CommandRunner
	timeout     time.Duration
	logger      hclog.Logger
	instruments *metrics.Instruments

	group singleflight.Group
	wg    sync.WaitGroup
}

// Option customises an Executor.
type Option func(*Executor)

// WithRunner replaces the shell runner.
func WithRunner(r CommandRunner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithTimeout bounds each command.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger used for outcomes.
func WithLogger(l hclog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithInstruments counts executed steps.
func WithInstruments(i *metrics.Instruments) Option {
	return func(e *Executor) { e.instruments = i }
}

// NewExecutor creates an executor using `bash -lc` unless overridden.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		runner:  DefaultShell(),
		timeout: defaultTimeout,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts remediation for check and returns immediately.
// If a remediation for the same check is still running the call joins it.
func (e *Executor) Execute(check string, steps []models.RemediationStep) {
	if !hasCommand(steps) {
		return
	}

	e.wg.Add(1)
	ch := e.group.DoChan(check, func() (any, error) {
		e.run(check, steps)
		return nil, nil
	})
	go func() {
		defer e.wg.Done()
		<-ch
	}()
}

// Wait blocks until every started remediation has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) run(check string, steps []models.RemediationStep) {
	for i, step := range steps {
		if step.Action != models.ActionCommand {
			e.logger.Debug("skipping unsupported remediation action", "check", check, "step", i, "action", step.Action)
			continue
		}
		e.report(e.runStep(check, i, step.Command))
	}
}

func (e *Executor) runStep(check string, index int, command string) (out Outcome) {
	out = Outcome{Check: check, Step: index, Command: command}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("remediation panicked: %v", r)
		}
		out.Duration = time.Since(started)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	output, err := e.runner.Run(ctx, command)
	out.Output = strings.TrimSpace(string(output))
	out.Err = err
	return out
}

func (e *Executor) report(out Outcome) {
	if out.Err == nil {
		e.instruments.ObserveRemediation(metrics.OutcomeSuccess)
		e.logger.Info("remediation succeeded",
			"check", out.Check, "step", out.Step, "cmd", out.Command, "duration", out.Duration)
		return
	}

	e.instruments.ObserveRemediation(metrics.OutcomeError)
	args := []any{"check", out.Check, "step", out.Step, "cmd", out.Command, "duration", out.Duration, "error", out.Err}
	var exitErr *exec.ExitError
	if errors.As(out.Err, &exitErr) {
		args = append(args, "exit_code", exitErr.ExitCode())
	}
	if out.Output != "" {
		args = append(args, "output", out.Output)
	}
	e.logger.Warn("remediation failed", args...)
}

func hasCommand(steps []models.RemediationStep) bool {
	for _, step := range steps {
		if step.Action == models.ActionCommand {
			return true
		}
	}
	return false
}
