// Package metrics exports flush and operation telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wwcpsync"

// Recorder owns every collector of the service. A nil *Recorder records
// nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	flushRuns       *prometheus.CounterVec
	flushDuration   *prometheus.HistogramVec
	flushExceptions *prometheus.CounterVec
	flushWarnings   *prometheus.CounterVec
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	inbound         *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses a private registry,
// which is what tests want.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		flushRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_runs_total",
			Help:      "Flush runs by adapter, cycle and final state.",
		}, []string{"adapter", "cycle", "state"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Runtime of executed flush runs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		}, []string{"adapter", "cycle"}),
		flushExceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_exceptions_total",
			Help:      "Flush runs that ended with an exception.",
		}, []string{"adapter", "cycle"}),
		flushWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_warnings_total",
			Help:      "Warnings reported by flush runs.",
		}, []string{"adapter", "cycle"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Adapter operations by subject, operation, mode and result.",
		}, []string{"adapter", "subject", "operation", "mode", "result"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Runtime of adapter operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"adapter", "mode"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending mutations per adapter and entity kind.",
		}, []string{"adapter", "kind"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound bus messages by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(
		r.flushRuns, r.flushDuration, r.flushExceptions, r.flushWarnings,
		r.operations, r.operationTime, r.queueDepth, r.inbound,
	)
	return r
}

func (r *Recorder) FlushFinished(adapter, cycle, state string, runtime time.Duration, executed bool) {
	if r == nil {
		return
	}
	r.flushRuns.WithLabelValues(adapter, cycle, state).Inc()
	if executed {
		r.flushDuration.WithLabelValues(adapter, cycle).Observe(runtime.Seconds())
	}
}

func (r *Recorder) FlushException(adapter, cycle string) {
	if r == nil {
		return
	}
	r.flushExceptions.WithLabelValues(adapter, cycle).Inc()
}

func (r *Recorder) FlushWarnings(adapter, cycle string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.flushWarnings.WithLabelValues(adapter, cycle).Add(float64(n))
}

func (r *Recorder) Operation(adapter, subject, operation, mode, result string, count int, runtime time.Duration) {
	if r == nil {
		return
	}
	if count <= 0 {
		count = 1
	}
	r.operations.WithLabelValues(adapter, subject, operation, mode, result).Add(float64(count))
	r.operationTime.WithLabelValues(adapter, mode).Observe(runtime.Seconds())
}

func (r *Recorder) QueueDepth(adapter, kind string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(adapter, kind).Set(float64(depth))
}

func (r *Recorder) Inbound(msgType, result string) {
	if r == nil {
		return
	}
	r.inbound.WithLabelValues(msgType, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
