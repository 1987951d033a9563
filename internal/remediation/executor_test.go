package remediation

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"opsagent/internal/metrics"
	"opsagent/internal/models"
)

type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	err      error
	block    chan struct{}
	running  atomic.Int32
	maxSeen  atomic.Int32
}

func (r *recordingRunner) Run(ctx context.Context, command string) ([]byte, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if n <= prev || r.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}

	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte("done"), r.err
}

func (r *recordingRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func TestExecutor_RunsCommandStepsInOrder(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	e := NewExecutor(WithRunner(runner))

	e.Execute("api", []models.RemediationStep{
		{Action: "command", Command: "first"},
		{Action: "notify", Command: "skipped"},
		{Action: "command", Command: "second"},
		{Action: "", Command: "also skipped"},
		{Action: "command", Command: "third"},
	})
	e.Wait()

	require.Equal(t, []string{"first", "second", "third"}, runner.Commands())
}

func TestExecutor_NoCommandStepsIsNoop(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	e := NewExecutor(WithRunner(runner))

	e.Execute("api", nil)
	e.Execute("api", []models.RemediationStep{{Action: "webhook", Command: "x"}})
	e.Wait()

	require.Empty(t, runner.Commands())
}

func TestExecutor_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	inst := metrics.NewInstruments()
	runner := &recordingRunner{err: errors.New("exit status 1")}
	e := NewExecutor(WithRunner(runner), WithInstruments(inst))

	require.NotPanics(t, func() {
		e.Execute("api", []models.RemediationStep{
			{Action: "command", Command: "a"},
			{Action: "command", Command: "b"},
		})
		e.Wait()
	})

	// A failing step does not stop the following ones.
	require.Equal(t, []string{"a", "b"}, runner.Commands())
	require.Equal(t, 2.0, testutil.ToFloat64(inst.Collectors()[1]))
}

func TestExecutor_DoesNotOverlapSameCheck(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{block: make(chan struct{})}
	e := NewExecutor(WithRunner(runner))
	steps := []models.RemediationStep{{Action: "command", Command: "restart api"}}

	e.Execute("api", steps)
	require.Eventually(t, func() bool { return len(runner.Commands()) == 1 }, time.Second, 5*time.Millisecond)

	// Triggers while the first run is blocked join it instead of starting another.
	e.Execute("api", steps)
	e.Execute("api", steps)
	close(runner.block)
	e.Wait()

	require.Len(t, runner.Commands(), 1)
	require.Equal(t, int32(1), runner.maxSeen.Load())

	// Once finished, a new trigger runs again.
	e.Execute("api", steps)
	e.Wait()
	require.Len(t, runner.Commands(), 2)
}

func TestExecutor_DifferentChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{block: make(chan struct{})}
	e := NewExecutor(WithRunner(runner))

	e.Execute("api", []models.RemediationStep{{Action: "command", Command: "a"}})
	e.Execute("db", []models.RemediationStep{{Action: "command", Command: "b"}})

	require.Eventually(t, func() bool { return runner.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(runner.block)
	e.Wait()

	require.ElementsMatch(t, []string{"a", "b"}, runner.Commands())
}

func TestExecutor_TimeoutBoundsCommand(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{block: make(chan struct{})}
	e := NewExecutor(WithRunner(runner), WithTimeout(20*time.Millisecond))

	started := time.Now()
	e.Execute("api", []models.RemediationStep{{Action: "command", Command: "hang"}})
	e.Wait()

	require.Less(t, time.Since(started), time.Second)
}

func TestExecutor_ExecuteReturnsImmediately(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{block: make(chan struct{})}
	e := NewExecutor(WithRunner(runner))

	done := make(chan struct{})
	go func() {
		e.Execute("api", []models.RemediationStep{{Action: "command", Command: "slow"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute blocked on the remediation command")
	}
	close(runner.block)
	e.Wait()
}

func TestShellRunner(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ShellRunner{Shell: "sh", Args: []string{"-c"}}

	out, err := r.Run(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	require.Contains(t, string(out), "hello")
	require.Contains(t, string(out), "oops")

	_, err = r.Run(context.Background(), "exit 3")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, "sleep 5")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShellRunner_OutputIsBounded(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := ShellRunner{Shell: "sh", Args: []string{"-c"}}

	out, err := r.Run(context.Background(), "i=0; while [ $i -lt 2000 ]; do echo line-$i; i=$((i+1)); done")
	require.NoError(t, err)
	require.LessOrEqual(t, len(out), outputLimit)
	require.Contains(t, string(out), "line-1999")
}

func TestDefaultShell(t *testing.T) {
	t.Parallel()

	require.Equal(t, ShellRunner{Shell: "bash", Args: []string{"-lc"}}, DefaultShell())
}
