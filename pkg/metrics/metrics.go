// Package metrics provides Prometheus instrumentation for xmppconv.
//
// The collectors are registered with the default registry at package
// initialisation, so importing the package is enough to have them exported
// by Handler.
//
// # Basic Usage
//
//	metrics.RowsProcessed.WithLabelValues("users", metrics.StatusOK).Inc()
//
//	timer := metrics.NewTimer("users")
//	stats := pipeline.Run(ctx, conv)
//	metrics.ConversionDuration.WithLabelValues("users", stats.State.String()).
//	    Observe(timer.Stop().Seconds())
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Row status label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var (
	// RowsProcessed counts source rows per converter and outcome.
	// Labels: converter, status (ok/failed)
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xmppconv_rows_processed_total",
			Help: "Total number of source rows processed",
		},
		[]string{"converter", "status"},
	)

	// ConversionDuration tracks how long each converter run took.
	// Labels: converter, state (completed/aborted)
	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xmppconv_conversion_duration_seconds",
			Help:    "Duration of a single converter run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"converter", "state"},
	)

	// PoolHandlesInUse is the number of handles currently checked out.
	PoolHandlesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xmppconv_pool_handles_in_use",
			Help: "Number of repository handles currently checked out",
		},
	)

	// PoolAcquireWait tracks how long callers blocked waiting for a handle.
	PoolAcquireWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "xmppconv_pool_acquire_wait_seconds",
			Help: "Time spent waiting for a repository handle",
			Buckets: []float64{
				1e-6, // 1μs - idle handle available
				1e-4, // 100μs
				1e-3, // 1ms
				1e-2, // 10ms
				1e-1, // 100ms
				1,    // 1s - contention
				10,   // 10s - likely undersized pool
			},
		},
	)

	// PoolAcquireFailures counts acquisitions abandoned by cancellation or timeout.
	PoolAcquireFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xmppconv_pool_acquire_failures_total",
			Help: "Total number of handle acquisitions that were cancelled or timed out",
		},
	)
)

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

// Name returns the label the timer was created with.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
