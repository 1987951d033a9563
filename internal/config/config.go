package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"opsagent/internal/models"
)

const (
	defaultInterval           = "30s"
	defaultMetricsAddress     = "0.0.0.0:9108"
	defaultHistoryLimit       = 200
	defaultRemediationTimeout = "2m"
	defaultPeerRefresh        = "60s"
	defaultPushInterval       = "15s"
)

// Config represents configuration data for the agent.
type Config struct {
	Host               string             `yaml:"host" toml:"host"`
	Interval           string             `yaml:"interval" toml:"interval"`
	MetricsAddress     string             `yaml:"metrics_address" toml:"metrics_address"`
	MetricsNamespace   string             `yaml:"metrics_namespace" toml:"metrics_namespace"`
	DataDirectory      string             `yaml:"data_directory" toml:"data_directory"`
	HistoryLimit       int                `yaml:"history_limit" toml:"history_limit"`
	RemediationTimeout string             `yaml:"remediation_timeout" toml:"remediation_timeout"`
	PushInterval       string             `yaml:"push_interval" toml:"push_interval"`
	PeerRefresh        string             `yaml:"peer_refresh" toml:"peer_refresh"`
	Logging            LoggingConfig      `yaml:"logging" toml:"logging"`
	Peers              []Peer             `yaml:"peers" toml:"peers"`
	Checks             []models.CheckSpec `yaml:"checks" toml:"checks"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Peer defines a remote agent whose checks are aggregated into the fleet view.
type Peer struct {
	ID      string `yaml:"id" toml:"id"`
	Name    string `yaml:"name" toml:"name"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Field, e.Msg, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, msg string, err error) error {
	return &ValidationError{Field: field, Msg: msg, Err: err}
}

// DefaultConfig returns the defaults applied before the file is decoded.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "opsagent-local"
	}

	return Config{
		Host:               hostname,
		Interval:           defaultInterval,
		MetricsAddress:     defaultMetricsAddress,
		HistoryLimit:       defaultHistoryLimit,
		RemediationTimeout: defaultRemediationTimeout,
		PushInterval:       defaultPushInterval,
		PeerRefresh:        defaultPeerRefresh,
		Logging:            LoggingConfig{Level: "info"},
	}
}

// Load reads, decodes and validates the configuration at path.
// YAML is used for .yaml/.yml files and TOML for everything else.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(content, formatFor(path))
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Format selects the decoder used by Parse.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes raw configuration on top of DefaultConfig without validating it.
func Parse(content []byte, format Format) (Config, error) {
	cfg := DefaultConfig()
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(content), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}

	for i := range cfg.Checks {
		if cfg.Checks[i].Type == "" {
			cfg.Checks[i].Type = models.CheckTypeHTTP
		}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}

// Validate checks that the configuration can drive the agent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return invalid("host", "must not be empty", nil)
	}
	durations := []struct{ field, raw string }{
		{"interval", c.Interval},
		{"remediation_timeout", c.RemediationTimeout},
		{"push_interval", c.PushInterval},
		{"peer_refresh", c.PeerRefresh},
	}
	for _, d := range durations {
		if _, err := parsePositive(d.raw); err != nil {
			return invalid(d.field, fmt.Sprintf("invalid duration %q", d.raw), err)
		}
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && hclog.LevelFromString(strings.ToLower(lvl)) == hclog.NoLevel {
		return invalid("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level), nil)
	}
	if len(c.Checks) == 0 {
		return invalid("checks", "configuration must define at least one check", nil)
	}

	seen := make(map[string]struct{}, len(c.Checks))
	for i, check := range c.Checks {
		field := fmt.Sprintf("checks[%d]", i)
		if strings.TrimSpace(check.Name) == "" {
			return invalid(field+".name", "must not be empty", nil)
		}
		field = fmt.Sprintf("checks[%s]", check.Name)
		if _, dup := seen[check.Name]; dup {
			return invalid(field+".name", "duplicate check name", nil)
		}
		seen[check.Name] = struct{}{}

		if check.Type != "" && check.Type != models.CheckTypeHTTP {
			return invalid(field+".type", fmt.Sprintf("unsupported check type %q", check.Type), nil)
		}
		u, err := url.Parse(check.URL)
		if err != nil {
			return invalid(field+".url", "cannot parse", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid(field+".url", fmt.Sprintf("%q must be an absolute http(s) URL", check.URL), nil)
		}
		if check.ExpectStatus < 0 || check.ExpectStatus > 65535 {
			return invalid(field+".expect_status", fmt.Sprintf("%d is out of range 0-65535", check.ExpectStatus), nil)
		}
		for j, step := range check.Remediation {
			stepField := fmt.Sprintf("%s.remediation[%d]", field, j)
			if strings.TrimSpace(step.Action) == "" {
				return invalid(stepField+".action", "must not be empty", nil)
			}
			if step.Action == models.ActionCommand && strings.TrimSpace(step.Command) == "" {
				return invalid(stepField+".cmd", "command step requires cmd", nil)
			}
		}
	}

	for i, peer := range c.Peers {
		if !peer.Enabled {
			continue
		}
		if peer.ID == "" {
			return invalid(fmt.Sprintf("peers[%d].id", i), "must not be empty", nil)
		}
		if peer.BaseURL == "" {
			return invalid(fmt.Sprintf("peers[%s].base_url", peer.ID), "is required", nil)
		}
	}
	return nil
}

// IntervalDuration returns the pause between cycles.
func (c Config) IntervalDuration() time.Duration {
	return mustDuration(c.Interval, defaultInterval)
}

// RemediationTimeoutDuration returns the hard limit for one remediation command.
func (c Config) RemediationTimeoutDuration() time.Duration {
	return mustDuration(c.RemediationTimeout, defaultRemediationTimeout)
}

// PushIntervalDuration returns how often websocket clients receive snapshots.
func (c Config) PushIntervalDuration() time.Duration {
	return mustDuration(c.PushInterval, defaultPushInterval)
}

// PeerRefreshDuration returns how often peers are polled.
func (c Config) PeerRefreshDuration() time.Duration {
	return mustDuration(c.PeerRefresh, defaultPeerRefresh)
}

func parsePositive(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func mustDuration(raw, fallback string) time.Duration {
	if d, err := parsePositive(raw); err == nil {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSAGENT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("OPSAGENT_INTERVAL"); v != "" {
		cfg.Interval = v
	}
	if v := os.Getenv("OPSAGENT_METRICS_ADDRESS"); v != "" {
		cfg.MetricsAddress = v
	}
	if v := os.Getenv("OPSAGENT_DATA_DIRECTORY"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("OPSAGENT_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	if v := os.Getenv("OPSAGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPSAGENT_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
}
