package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"opsagent/internal/agent"
	"opsagent/internal/config"
)

const (
	defaultConfigPath = "/etc/opsagent/config.yaml"
	version           = "0.1.0"
)

// errChecksDown makes `opsagent check` exit non-zero without printing usage.
var errChecksDown = errors.New("one or more checks are down")

type rootOptions struct {
	configPath string
	metrics    string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "opsagent",
		Short:        "Host monitoring agent: HTTP checks, remediation and Prometheus metrics",
		Long:         "opsagent probes the configured HTTP endpoints on a fixed interval, runs remediation\ncommands when a check fails and exposes check state at /metrics.",
		SilenceUsage: true,
		Version:      version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, logger)
		},
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&opts.metrics, "metrics", "", "metrics listen address, overrides metrics_address (e.g. 0.0.0.0:9108)")

	rootCmd.AddCommand(newCheckCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))
	return rootCmd
}

func (o *rootOptions) load() (config.Config, hclog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if o.metrics != "" {
		cfg.MetricsAddress = o.metrics
	}
	return cfg, newLogger(cfg.Logging), nil
}

func newLogger(cfg config.LoggingConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "opsagent",
		Level:      hclog.LevelFromString(strings.ToLower(cfg.Level)),
		JSONFormat: cfg.JSON,
		Output:     os.Stderr,
	})
}

func runAgent(parent context.Context, cfg config.Config, logger hclog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("opsagent starting", "host", cfg.Host, "checks", len(cfg.Checks))
	if err := a.Run(ctx); err != nil {
		logger.Error("agent stopped", "error", err)
		return err
	}
	logger.Info("opsagent stopped")
	return nil
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run every check once, print the results and exit",
		Long:  "Runs a single cycle (including remediation of failed checks) and exits non-zero if any check is down.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := agent.New(cfg, logger)
			if err != nil {
				return err
			}
			entry, err := a.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			down := 0
			for _, res := range entry.Checks {
				if res.Up {
					fmt.Fprintf(out, "%s OK (%d ms)\n", res.Name, res.LatencyMS)
					continue
				}
				down++
				fmt.Fprintf(out, "%s FAIL (%d ms): %s\n", res.Name, res.LatencyMS, res.Error)
			}
			if down > 0 {
				return fmt.Errorf("%w: %d of %d", errChecksDown, down, len(entry.Checks))
			}
			return nil
		},
	}
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: host %s, %d check(s), interval %s\n",
				opts.configPath, cfg.Host, len(cfg.Checks), cfg.IntervalDuration())
			return nil
		},
	}
}
