// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/loop"
)

// Collector gathers loop and capability metrics. It implements the
// observer interfaces of the capability registry and the orchestrator.
type Collector struct {
	loopRunsTotal       *prometheus.CounterVec
	loopIterationsTotal *prometheus.CounterVec
	loopRunDuration     *prometheus.HistogramVec
	contextTokens       *prometheus.GaugeVec

	capabilityInvocationsTotal *prometheus.CounterVec
	capabilityDuration         *prometheus.HistogramVec

	checkpointSavesTotal   *prometheus.CounterVec
	checkpointSaveDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metric families under the namespace with
// the given registerer (nil uses the default registerer).
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.loopRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_runs_total",
			Help:      "Total loop runs by terminal status",
		},
		[]string{"loop", "status"},
	)

	c.loopIterationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Total loop iterations",
		},
		[]string{"loop"},
	)

	c.loopRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_run_duration_seconds",
			Help:      "Wall-clock duration of loop runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"loop"},
	)

	c.contextTokens = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Current context token total per loop",
		},
		[]string{"loop"},
	)

	c.capabilityInvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_invocations_total",
			Help:      "Capability invocations by type and outcome",
		},
		[]string{"capability", "type", "status"},
	)

	c.capabilityDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_invocation_duration_seconds",
			Help:      "Capability invocation duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	c.checkpointSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint save attempts by outcome",
		},
		[]string{"loop", "status"},
	)

	c.checkpointSaveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_save_duration_seconds",
			Help:      "Checkpoint save duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	return c
}

// RecordInvocation implements capability.Observer.
func (c *Collector) RecordInvocation(name string, capType capability.Type, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.capabilityInvocationsTotal.WithLabelValues(name, string(capType), status).Inc()
	c.capabilityDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordIteration implements loop.Observer.
func (c *Collector) RecordIteration(loopName string) {
	c.loopIterationsTotal.WithLabelValues(loopName).Inc()
}

// RecordRun implements loop.Observer.
func (c *Collector) RecordRun(loopName string, status loop.Status, d time.Duration) {
	c.loopRunsTotal.WithLabelValues(loopName, string(status)).Inc()
	c.loopRunDuration.WithLabelValues(loopName).Observe(d.Seconds())
}

// RecordContextTokens implements loop.Observer.
func (c *Collector) RecordContextTokens(loopName string, tokens int) {
	c.contextTokens.WithLabelValues(loopName).Set(float64(tokens))
}

// RecordCheckpointSave tracks checkpoint persistence.
func (c *Collector) RecordCheckpointSave(loopName string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.checkpointSavesTotal.WithLabelValues(loopName, status).Inc()
	c.checkpointSaveDuration.WithLabelValues(loopName).Observe(d.Seconds())
}

var (
	_ capability.Observer = (*Collector)(nil)
	_ loop.Observer       = (*Collector)(nil)
)
