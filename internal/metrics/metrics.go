package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics. Hot-path updates go through atomics;
// Prometheus reads them lazily via GaugeFunc collectors.
type Metrics struct {
	// Capture
	FramesCaptured atomic.Uint64
	CaptureErrors  atomic.Uint64

	// Change gate
	FramesGated    atomic.Uint64 // frames skipped by the gate
	FramesEnqueued atomic.Uint64

	// Inference queue / worker
	QueueDrops       atomic.Uint64
	QueueDepth       atomic.Uint64
	InferenceCalls   atomic.Uint64
	InferenceErrors  atomic.Uint64
	InferenceMs      atomic.Uint64 // latency of the last successful call
	SnapshotsPublish atomic.Uint64

	// Zone engine / alerts
	ZoneViolations   atomic.Uint64
	AlertsDispatched atomic.Uint64

	// Renderer / stream
	FramesRendered atomic.Uint64
	RenderErrors   atomic.Uint64
	StreamClients  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerCollectors()
	return m
}

func (m *Metrics) registerCollectors() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"zonewatch_frames_captured_total", "Total frames captured from the camera", m.FramesCaptured.Load},
		{"zonewatch_capture_errors_total", "Total failed capture ticks", m.CaptureErrors.Load},
		{"zonewatch_frames_gated_total", "Total frames skipped by the change gate", m.FramesGated.Load},
		{"zonewatch_frames_enqueued_total", "Total frames submitted to the inference queue", m.FramesEnqueued.Load},
		{"zonewatch_queue_drops_total", "Total frames dropped because the inference queue was full", m.QueueDrops.Load},
		{"zonewatch_queue_depth", "Current inference queue depth", m.QueueDepth.Load},
		{"zonewatch_inference_calls_total", "Total detection service calls", m.InferenceCalls.Load},
		{"zonewatch_inference_errors_total", "Total failed detection service calls", m.InferenceErrors.Load},
		{"zonewatch_inference_latency_ms", "Latency of the last successful detection call in milliseconds", m.InferenceMs.Load},
		{"zonewatch_snapshots_published_total", "Total detection snapshots published", m.SnapshotsPublish.Load},
		{"zonewatch_zone_violations_total", "Total Clear to Violated zone transitions", m.ZoneViolations.Load},
		{"zonewatch_alerts_dispatched_total", "Total alerts handed to sinks", m.AlertsDispatched.Load},
		{"zonewatch_frames_rendered_total", "Total composited frames produced by the renderer", m.FramesRendered.Load},
		{"zonewatch_render_errors_total", "Total renderer compositing errors", m.RenderErrors.Load},
		{"zonewatch_stream_clients", "Current MJPEG stream clients", m.StreamClients.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// ObserveInference records one detection call outcome.
func (m *Metrics) ObserveInference(d time.Duration, err error) {
	m.InferenceCalls.Add(1)
	if err != nil {
		m.InferenceErrors.Add(1)
		return
	}
	m.InferenceMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on its own listener.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
