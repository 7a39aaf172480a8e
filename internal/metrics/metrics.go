// Package metrics exposes Prometheus metrics of pipeline runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	gasUsed       *prometheus.CounterVec
	breakerTrips  prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Stage duration in seconds, including confirmation wait",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"stage", "status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_failures_total",
				Help: "Total number of failed stages by failure kind",
			},
			[]string{"stage", "kind"},
		),
		gasUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_gas_used_total",
				Help: "Gas used by confirmed transactions",
			},
			[]string{"stage"},
		),
		breakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_rpc_breaker_trips_total",
				Help: "Times the RPC circuit breaker opened",
			},
		),
	}

	reg.MustRegister(
		m.runs,
		m.stageDuration,
		m.failures,
		m.gasUsed,
		m.breakerTrips,
	)
	return m
}

// ObserveStage records a finished stage. An empty kind means success.
func (m *Metrics) ObserveStage(stage, kind string, duration time.Duration, gasUsed uint64) {
	if m == nil {
		return
	}
	status := "success"
	if kind != "" {
		status = "failure"
		m.failures.WithLabelValues(stage, kind).Inc()
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	if gasUsed > 0 {
		m.gasUsed.WithLabelValues(stage).Add(float64(gasUsed))
	}
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(succeeded bool) {
	if m == nil {
		return
	}
	status := "success"
	if !succeeded {
		status = "failure"
	}
	m.runs.WithLabelValues(status).Inc()
}

// RecordBreakerTrip counts an opened RPC circuit breaker. Its signature
// matches chain.Options.OnBreakerTrip.
func (m *Metrics) RecordBreakerTrip(reason string) {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
	logrus.WithField("reason", reason).Debug("RPC breaker trip recorded")
}

// Serve starts the /metrics and /healthz server and stops it when ctx is done.
// An empty addr disables it.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	if addr == "" {
		logrus.Debug("Metrics server disabled")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.Infof("Metrics server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Metrics server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Metrics server shutdown error: %v", err)
		}
	}()
}
