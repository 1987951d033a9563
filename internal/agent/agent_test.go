package agent

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opsagent/internal/config"
	"opsagent/internal/models"
)

type fakeShell struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakeShell) Run(_ context.Context, command string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, command)
	return nil, nil
}

func (f *fakeShell) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func testConfig(t *testing.T, targetURL string) config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Host = "web-01"
	cfg.Interval = "20ms"
	cfg.MetricsAddress = "127.0.0.1:0"
	cfg.DataDirectory = t.TempDir()
	cfg.Checks = []models.CheckSpec{
		{Name: "ok", Type: models.CheckTypeHTTP, URL: targetURL + "/ok", ExpectStatus: 200},
		{
			Name: "broken", Type: models.CheckTypeHTTP, URL: targetURL + "/broken", ExpectStatus: 200,
			Remediation: []models.RemediationStep{
				{Action: "command", Command: "systemctl restart broken"},
				{Action: "page", Command: "ignored"},
			},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func target(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAgent_RunOnce(t *testing.T) {
	t.Parallel()

	shell := &fakeShell{}
	a, err := New(testConfig(t, target(t).URL), nil, WithCommandRunner(shell))
	require.NoError(t, err)

	entry, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, entry.Checks, 2)
	require.True(t, entry.Checks[0].Up)
	require.False(t, entry.Checks[1].Up)
	require.Equal(t, []string{"systemctl restart broken"}, shell.Commands())

	ok, _ := a.Store().Get("web-01", "ok")
	broken, _ := a.Store().Get("web-01", "broken")
	require.Equal(t, 1, ok.Up)
	require.Equal(t, 0, broken.Up)
	require.Equal(t, uint64(1), broken.FailTotal)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `check_fail_total{host="web-01",name="broken"} 1`)
	require.Contains(t, string(body), `opsagent_remediations_total{outcome="success"} 1`)
	require.Contains(t, string(body), "opsagent_cycle_seconds_count 1")
}

func TestAgent_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	shell := &fakeShell{}
	a, err := New(testConfig(t, target(t).URL), nil, WithCommandRunner(shell))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		entry, _ := a.Store().Get("web-01", "broken")
		return entry.FailTotal >= 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	require.NotEmpty(t, shell.Commands())
	require.NotEmpty(t, a.history.History())
}

func TestAgent_RunFailsWhenAddressInUse(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	cfg := testConfig(t, target(t).URL)
	cfg.MetricsAddress = lis.Addr().String()
	a, err := New(cfg, nil, WithCommandRunner(&fakeShell{}))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "serve metrics")
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not report bind failure")
	}
}
