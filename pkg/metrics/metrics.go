// Package metrics exposes quarry's Prometheus metrics.
//
// # Overview
//
// Runs, partitions and federated plans are counted by outcome; run and
// partition latencies are recorded as histograms; rows written and open
// source connections are tracked per source family.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("run")
//	err := d.Run(ctx)
//	metrics.ObserveRun("postgresql", "arrow", err, timer.Stop())
//
//	// Serve the default registry
//	http.Handle("/metrics", metrics.Handler())
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

var (
	// RunsTotal counts dispatcher runs.
	// Labels: source, destination, outcome (success/failure/cancelled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_runs_total",
			Help: "Total number of dispatcher runs",
		},
		[]string{"source", "destination", "outcome"},
	)

	// PartitionsTotal counts finished partitions.
	// Labels: source, pass (count/fetch), outcome
	PartitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_partitions_total",
			Help: "Total number of partitions executed",
		},
		[]string{"source", "pass", "outcome"},
	)

	// RowsWritten counts rows converted into destination buffers.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_rows_written_total",
			Help: "Total number of rows written to destinations",
		},
		[]string{"source", "destination"},
	)

	// RunDuration tracks end-to-end run latency in seconds.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_run_duration_seconds",
			Help:    "Dispatcher run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4.4min
		},
		[]string{"source", "destination"},
	)

	// PartitionDuration tracks per-partition latency in seconds.
	PartitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_partition_duration_seconds",
			Help:    "Partition duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"source", "pass"},
	)

	// ActiveConnections tracks open source connections.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_active_connections",
			Help: "Number of open source connections",
		},
		[]string{"source"},
	)

	// FederatedPlans counts executed federated plans.
	// Labels: target (local/remote), outcome
	FederatedPlans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_federated_plans_total",
			Help: "Total number of federated plans executed",
		},
		[]string{"target", "outcome"},
	)

	// Throughput tracks rows per second of the most recent run.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_throughput_rows_per_second",
			Help: "Rows per second of the most recent run",
		},
		[]string{"source", "destination"},
	)
)

// Outcome maps an error to an outcome label. Aborted errors are
// cancellations, not failures.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.IsType(err, errors.ErrorTypeAborted):
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}

// ObserveRun records one finished run.
func ObserveRun(source, destination string, err error, d time.Duration) {
	RunsTotal.WithLabelValues(source, destination, Outcome(err)).Inc()
	RunDuration.WithLabelValues(source, destination).Observe(d.Seconds())
}

// ObservePartition records one finished partition.
func ObservePartition(source, pass string, err error, d time.Duration) {
	PartitionsTotal.WithLabelValues(source, pass, Outcome(err)).Inc()
	PartitionDuration.WithLabelValues(source, pass).Observe(d.Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second for one source/destination pair.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64     // Rows since last reset
	lastReset   time.Time // Time of last reset
	source      string
	destination string
}

// NewThroughputTracker creates a tracker labelled by source and destination.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		source:      source,
		destination: destination,
	}
}

// Increment adds n to the row count and to RowsWritten.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.count += n
	t.mu.Unlock()
	RowsWritten.WithLabelValues(t.source, t.destination).Add(float64(n))
}

// Count returns the rows counted since the last reset.
func (t *ThroughputTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// GetAndReset computes rows per second since the last reset, publishes it
// to Throughput and resets the counter.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)
	return throughput
}
