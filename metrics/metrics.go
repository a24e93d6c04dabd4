// Package metrics exposes Prometheus instrumentation for the protocol
// services and a standalone metrics HTTP server.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ranknet",
			Subsystem: "protocol",
			Name:      "runs_started_total",
			Help:      "Protocol runs started, by role.",
		},
		[]string{"role"},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ranknet",
			Subsystem: "protocol",
			Name:      "runs_completed_total",
			Help:      "Protocol runs finished, by role and outcome.",
		},
		[]string{"role", "success"},
	)
	verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ranknet",
			Subsystem: "protocol",
			Name:      "worker_verdicts_total",
			Help:      "Per-worker validation verdicts produced by the coordinator.",
		},
		[]string{"verdict"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ranknet",
			Subsystem: "protocol",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full protocol run, by role.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(runsStarted, runsCompleted, verdicts, runDuration)
	})
}

func RecordRunStarted(role string) {
	RegisterMetrics()
	runsStarted.WithLabelValues(role).Inc()
}

func RecordRunCompleted(role string, success bool) {
	RegisterMetrics()
	runsCompleted.WithLabelValues(role, strconv.FormatBool(success)).Inc()
}

func RecordVerdict(verdict string) {
	RegisterMetrics()
	verdicts.WithLabelValues(verdict).Inc()
}

func ObserveRunDuration(role string, duration time.Duration) {
	RegisterMetrics()
	runDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// separate from the service API.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server bound to addr. An empty addr yields a server
// that is never started; callers gate on their own config.
func New(namespace, addr string) (*MetricsServer, error) {
	RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
