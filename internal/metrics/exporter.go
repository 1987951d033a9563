package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels remediation steps that exited cleanly.
	OutcomeSuccess = "success"
	// OutcomeError labels remediation steps that failed to spawn, exited non-zero or timed out.
	OutcomeError = "error"

	labelHost = "host"
	labelName = "name"
)

// Collector exposes the contents of a Store as check_up, check_fail_total and
// check_last_ms series. Every scrape reads a fresh snapshot.
type Collector struct {
	store *Store

	up       *prometheus.Desc
	failures *prometheus.Desc
	lastMS   *prometheus.Desc
}

// NewCollector builds a collector over store. namespace may be empty.
func NewCollector(store *Store, namespace string) *Collector {
	labels := []string{labelHost, labelName}
	return &Collector{
		store: store,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "check", "up"),
			"Check up (1) / down (0).",
			labels, nil,
		),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "check", "fail_total"),
			"Total failures per check.",
			labels, nil,
		),
		lastMS: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "check", "last_ms"),
			"Last check latency in milliseconds.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.failures
	ch <- c.lastMS
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, entry := range c.store.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, float64(entry.Up), entry.Host, entry.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(entry.FailTotal), entry.Host, entry.Name)
		ch <- prometheus.MustNewConstMetric(c.lastMS, prometheus.GaugeValue, float64(entry.LastLatencyMS), entry.Host, entry.Name)
	}
}

// Instruments tracks the agent's own behaviour. A nil *Instruments is valid and records nothing.
type Instruments struct {
	cycleSeconds prometheus.Histogram
	remediations *prometheus.CounterVec
}

// NewInstruments creates unregistered agent collectors.
func NewInstruments() *Instruments {
	return &Instruments{
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opsagent",
			Name:      "cycle_seconds",
			Help:      "Duration of a full check cycle in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		remediations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsagent",
			Name:      "remediations_total",
			Help:      "Remediation steps executed, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// Collectors lists the collectors to register.
func (i *Instruments) Collectors() []prometheus.Collector {
	if i == nil {
		return nil
	}
	return []prometheus.Collector{i.cycleSeconds, i.remediations}
}

// ObserveCycle records how long one cycle took.
func (i *Instruments) ObserveCycle(d time.Duration) {
	if i == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	i.cycleSeconds.Observe(d.Seconds())
}

// ObserveRemediation counts one executed remediation step.
func (i *Instruments) ObserveRemediation(outcome string) {
	if i == nil {
		return
	}
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	i.remediations.WithLabelValues(label).Inc()
}

// Register attaches collectors to reg, ignoring ones that are already registered.
func Register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
