// Package telemetry exports augmentation counters in Prometheus format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medaugment/internal/logging"
)

// Metrics implements pipeline.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	slices       prometheus.Counter
	sliceFailure *prometheus.CounterVec
	volumes      prometheus.Counter
	duration     prometheus.Histogram
	volumeSlices *prometheus.HistogramVec
	filesWritten *prometheus.CounterVec

	mu     sync.Mutex
	server *http.Server
}

// New creates the metric set and registers it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		slices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medaugment",
			Name:      "slices_processed_total",
			Help:      "Slices augmented into all six variants.",
		}),
		sliceFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medaugment",
			Name:      "slices_failed_total",
			Help:      "Slices skipped, by failing stage.",
		}, []string{"stage"}),
		volumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medaugment",
			Name:      "volumes_processed_total",
			Help:      "Volume pairs augmented.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medaugment",
			Name:      "volume_duration_seconds",
			Help:      "Wall time spent augmenting one volume pair.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		volumeSlices: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medaugment",
			Name:      "volume_slices",
			Help:      "Slices per augmented volume, by outcome (kept or failed).",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"outcome"}),
		filesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medaugment",
			Name:      "files_written_total",
			Help:      "Output files written, by format.",
		}, []string{"format"}),
	}
	m.registry.MustRegister(m.slices, m.sliceFailure, m.volumes, m.duration, m.volumeSlices, m.filesWritten)
	return m
}

func (m *Metrics) SliceProcessed() {
	m.slices.Inc()
}

func (m *Metrics) SliceFailed(stage string) {
	m.sliceFailure.WithLabelValues(stage).Inc()
}

func (m *Metrics) VolumeProcessed(kept, failed int, elapsed time.Duration) {
	m.volumes.Inc()
	m.duration.Observe(elapsed.Seconds())
	m.volumeSlices.WithLabelValues("kept").Observe(float64(kept))
	m.volumeSlices.WithLabelValues("failed").Observe(float64(failed))
}

// FilesWritten counts n output files of the given format ("nifti", "dicom", "png").
func (m *Metrics) FilesWritten(format string, n int) {
	m.filesWritten.WithLabelValues(format).Add(float64(n))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the text exposition format,
// suitable for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Expose serves the metrics under /metrics on addr in the background and
// returns the bound address. Shutdown stops the listener.
func (m *Metrics) Expose(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics listener stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops the listener started by Expose. It is a no-op when nothing
// is being served.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
