// Package monitor owns the lifecycle of one monitoring session: the capture,
// inference, and render loops plus the plumbing between them. The loops run
// on independent clocks; the session only starts, stops, and observes them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/alert"
	"github.com/civicsentinel/zonewatch/internal/capture"
	"github.com/civicsentinel/zonewatch/internal/gate"
	"github.com/civicsentinel/zonewatch/internal/inference"
	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/render"
	"github.com/civicsentinel/zonewatch/internal/zone"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// ErrRunning is returned by Start when the session is already running.
var ErrRunning = errors.New("session already running")

// ZoneSource supplies the active zone set at session start and on reload.
type ZoneSource interface {
	ListActive(ctx context.Context, cameraID string) ([]types.Zone, error)
}

// Config carries the per-session tuning knobs.
type Config struct {
	CameraID       string
	Capture        capture.Options
	QueueCapacity  int
	DetectTimeout  time.Duration
	RenderInterval time.Duration
	JPEGQuality    int
}

// Status is the session snapshot served by the status API.
type Status struct {
	CameraID           string                `json:"camera_id"`
	CameraStatus       string                `json:"camera_status"`
	Running            bool                  `json:"running"`
	StartedAt          time.Time             `json:"started_at"`
	FramesCaptured     uint64                `json:"frames_captured"`
	FramesGated        uint64                `json:"frames_gated"`
	QueueDrops         uint64                `json:"queue_drops"`
	QueueDepth         int                   `json:"queue_depth"`
	QueueCapacity      int                   `json:"queue_capacity"`
	InferenceCalls     uint64                `json:"inference_calls"`
	SnapshotsPublished uint64                `json:"snapshots_published"`
	AlertsDispatched   uint64                `json:"alerts_dispatched"`
	StreamClients      uint64                `json:"stream_clients"`
	Zones              []zone.ViolationState `json:"zones"`
}

// Session wires one camera through the gate, inference worker, zone engine,
// alert dispatcher, and renderer.
type Session struct {
	cfg        Config
	camera     capture.Camera
	gate       *gate.Gate
	queue      *inference.Queue
	source     *capture.Source
	worker     *inference.Worker
	engine     *zone.Engine
	dispatcher *alert.Dispatcher
	renderer   *render.Renderer
	zones      ZoneSource
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// NewSession assembles the pipeline. Nothing runs until Start.
func NewSession(
	cfg Config,
	camera capture.Camera,
	detector inference.Detector,
	g *gate.Gate,
	engine *zone.Engine,
	dispatcher *alert.Dispatcher,
	broadcaster *render.Broadcaster,
	zones ZoneSource,
	log zerolog.Logger,
	m *metrics.Metrics,
) *Session {
	s := &Session{
		cfg:        cfg,
		camera:     camera,
		gate:       g,
		engine:     engine,
		dispatcher: dispatcher,
		zones:      zones,
		log:        log.With().Str("component", "session").Str("camera_id", cfg.CameraID).Logger(),
		metrics:    m,
	}

	s.queue = inference.NewQueue(cfg.QueueCapacity)
	s.source = capture.NewSource(camera, cfg.Capture, log, m, s.handleFrame, nil)
	s.worker = inference.NewWorker(s.queue, detector, cfg.DetectTimeout, s.handleSnapshot, log, m)
	s.renderer = render.NewRenderer(s.source, s.worker, engine, broadcaster, cfg.RenderInterval, cfg.JPEGQuality, log, m)

	return s
}

// Renderer exposes the session renderer, used by the stream endpoint for
// on-demand compositing.
func (s *Session) Renderer() *render.Renderer { return s.renderer }

// Start loads the active zone set and launches the capture, inference, and
// render loops. ctx bounds the zone load only; the loops run until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrRunning
	}

	if err := s.loadZones(ctx); err != nil {
		return fmt.Errorf("load zones: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startedAt = time.Now()

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.source.Run(runCtx) }()
	go func() { defer s.wg.Done(); s.worker.Run(runCtx) }()
	go func() { defer s.wg.Done(); s.renderer.Run(runCtx) }()

	s.log.Info().Msg("monitoring session started")
	return nil
}

// Stop halts the loops and releases the camera. An in-flight detection call
// finishes before Stop returns. Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()

	err := s.camera.Close()
	s.log.Info().Msg("monitoring session stopped")
	return err
}

// ReloadZones replaces the engine's zone set with the current stored one and
// resets the gate so the next frame is always re-evaluated.
func (s *Session) ReloadZones(ctx context.Context) error {
	if err := s.loadZones(ctx); err != nil {
		return fmt.Errorf("reload zones: %w", err)
	}
	return nil
}

func (s *Session) loadZones(ctx context.Context) error {
	zones, err := s.zones.ListActive(ctx, s.cfg.CameraID)
	if err != nil {
		return err
	}
	s.engine.SetZones(zones)
	s.gate.Reset()
	return nil
}

// Status reports the live pipeline counters and per-zone violation state.
func (s *Session) Status() Status {
	s.mu.Lock()
	running := s.cancel != nil
	startedAt := s.startedAt
	s.mu.Unlock()

	return Status{
		CameraID:           s.cfg.CameraID,
		CameraStatus:       s.source.Status().String(),
		Running:            running,
		StartedAt:          startedAt,
		FramesCaptured:     s.metrics.FramesCaptured.Load(),
		FramesGated:        s.metrics.FramesGated.Load(),
		QueueDrops:         s.metrics.QueueDrops.Load(),
		QueueDepth:         s.queue.Depth(),
		QueueCapacity:      s.queue.Cap(),
		InferenceCalls:     s.metrics.InferenceCalls.Load(),
		SnapshotsPublished: s.metrics.SnapshotsPublish.Load(),
		AlertsDispatched:   s.metrics.AlertsDispatched.Load(),
		StreamClients:      s.metrics.StreamClients.Load(),
		Zones:              s.engine.States(),
	}
}

// handleFrame runs on the capture loop for every captured frame: gate first,
// then a non-blocking enqueue. A full queue drops this frame, never an older
// one, so the worker always sees the oldest pending capture. The gate commits
// the frame only after a successful enqueue: a frame the queue dropped never
// reached inference and must not suppress an identical successor.
func (s *Session) handleFrame(frame *types.Frame) {
	if !s.gate.Admit(frame.Data) {
		s.metrics.FramesGated.Add(1)
		return
	}

	if err := s.queue.Push(frame); err != nil {
		s.metrics.QueueDrops.Add(1)
		s.log.Debug().Uint64("frame_seq", frame.Seq).Msg("inference queue full, frame dropped")
		return
	}
	s.gate.Commit(frame.Data)
	s.metrics.FramesEnqueued.Add(1)
	s.metrics.QueueDepth.Store(uint64(s.queue.Depth()))
}

// handleSnapshot runs on the inference worker after each published snapshot.
// Dispatch gets its own deadline so a slow sink cannot be cut short by
// session shutdown.
func (s *Session) handleSnapshot(snapshot *types.DetectionSnapshot, frame *types.Frame) {
	transitions := s.engine.Evaluate(snapshot)
	if len(transitions) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.dispatcher.Dispatch(ctx, transitions, frame)
}
