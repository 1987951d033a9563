package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"opsagent/internal/cluster"
	"opsagent/internal/config"
	"opsagent/internal/metrics"
	"opsagent/internal/models"
	"opsagent/internal/monitor"
	"opsagent/internal/remediation"
	"opsagent/internal/server"
	"opsagent/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Agent owns every long-lived component of one agent process.
type Agent struct {
	cfg       config.Config
	logger    hclog.Logger
	store     *metrics.Store
	registry  *prometheus.Registry
	history   *storage.StatusStorage
	executor  *remediation.Executor
	scheduler *monitor.Scheduler
	cluster   *cluster.Service
	server    *server.Server
}

// Option customises the agent at build time.
type Option func(*buildOptions)

type buildOptions struct {
	runner     remediation.CommandRunner
	httpClient *http.Client
}

// WithCommandRunner replaces the shell used for remediation.
func WithCommandRunner(r remediation.CommandRunner) Option {
	return func(o *buildOptions) { o.runner = r }
}

// WithHTTPClient replaces the client used for probes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *buildOptions) { o.httpClient = c }
}

// New wires an agent from a validated configuration.
func New(cfg config.Config, logger hclog.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	historyPath := ""
	if cfg.DataDirectory != "" {
		historyPath = filepath.Join(cfg.DataDirectory, storage.HistoryFile)
	}
	history, err := storage.NewStatusStorage(historyPath, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("initialise storage: %w", err)
	}

	store := metrics.NewStore()
	instruments := metrics.NewInstruments()
	registry := prometheus.NewRegistry()
	toRegister := append([]prometheus.Collector{
		metrics.NewCollector(store, cfg.MetricsNamespace),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, instruments.Collectors()...)
	if err := metrics.Register(registry, toRegister...); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	execOpts := []remediation.Option{
		remediation.WithTimeout(cfg.RemediationTimeoutDuration()),
		remediation.WithLogger(logger.Named("remediation")),
		remediation.WithInstruments(instruments),
	}
	if bo.runner != nil {
		execOpts = append(execOpts, remediation.WithRunner(bo.runner))
	}
	executor := remediation.NewExecutor(execOpts...)

	scheduler := monitor.New(
		cfg.Host,
		cfg.IntervalDuration(),
		cfg.Checks,
		monitor.NewRunner(bo.httpClient, monitor.DefaultTimeout),
		store,
		executor,
		monitor.WithHistory(history),
		monitor.WithLogger(logger.Named("scheduler")),
		monitor.WithInstruments(instruments),
	)

	node := cluster.Node{ID: cfg.Host, Name: cfg.Host}
	clusterSvc := cluster.NewService(node, store, cfg.Peers, cfg.PeerRefreshDuration(), logger.Named("cluster"))

	srv := server.New(cfg.MetricsAddress, node, store, registry,
		server.WithHistory(history),
		server.WithCluster(clusterSvc),
		server.WithHistoryLimit(cfg.HistoryLimit),
		server.WithPushInterval(cfg.PushIntervalDuration()),
		server.WithLogger(logger.Named("server")),
	)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		registry:  registry,
		history:   history,
		executor:  executor,
		scheduler: scheduler,
		cluster:   clusterSvc,
		server:    srv,
	}, nil
}

// Store exposes the metrics store.
func (a *Agent) Store() *metrics.Store {
	return a.store
}

// Handler exposes the HTTP handler (metrics and API).
func (a *Agent) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves metrics and runs the scheduler until ctx is cancelled or the
// HTTP server fails. In-flight remediations are awaited before returning.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("metrics listening", "address", a.cfg.MetricsAddress)
		if err := a.server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	a.cluster.Start(ctx)
	a.scheduler.Start(ctx)
	a.logger.Info("agent running", "host", a.cfg.Host, "checks", len(a.cfg.Checks), "interval", a.cfg.IntervalDuration())

	<-ctx.Done()
	a.scheduler.Stop()
	a.cluster.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown", "error", err)
	}
	a.executor.Wait()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve metrics: %w", err)
	default:
		return nil
	}
}

// RunOnce executes a single cycle and waits for any remediation it triggered.
func (a *Agent) RunOnce(ctx context.Context) (models.StatusEntry, error) {
	entry, err := a.scheduler.RunOnce(ctx)
	a.executor.Wait()
	return entry, err
}
