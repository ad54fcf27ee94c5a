// Package metrics exposes prometheus metrics for storage operations and serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "objectstore"

var (
	// OperationsTotal counts storage operations per backend.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// OperationDuration tracks storage operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	// UploadBytesTotal counts bytes accepted per backend.
	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"backend"},
	)

	// MultipartSessions is the number of open multipart upload sessions.
	MultipartSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "multipart",
			Name:      "sessions_open",
			Help:      "Open multipart upload sessions",
		},
	)

	// ConfigCacheTotal counts config cache lookups by result.
	ConfigCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "cache_lookups_total",
			Help:      "Backend config cache lookups",
		},
		[]string{"result"},
	)
)

// RecordOperation records the outcome and latency of a storage operation.
func RecordOperation(backend, operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, status).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(started).Seconds())
}

// RecordUpload records accepted upload bytes.
func RecordUpload(backend string, bytes int64) {
	UploadBytesTotal.WithLabelValues(backend).Add(float64(bytes))
}

// RecordCacheLookup records a config cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		ConfigCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	ConfigCacheTotal.WithLabelValues("miss").Inc()
}

// MetricsServer serves /metrics on a dedicated listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
