package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/alert"
	"github.com/civicsentinel/zonewatch/internal/capture"
	"github.com/civicsentinel/zonewatch/internal/gate"
	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/render"
	"github.com/civicsentinel/zonewatch/internal/zone"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

type staticZones struct {
	zones []types.Zone
	err   error
}

func (s *staticZones) ListActive(context.Context, string) ([]types.Zone, error) {
	return s.zones, s.err
}

type staticDetector struct {
	detections []types.Detection
}

func (d *staticDetector) Detect(context.Context, []byte) ([]types.Detection, error) {
	return d.detections, nil
}

type channelSink struct {
	alerts chan types.Alert
}

func (s *channelSink) Name() string { return "chan" }

func (s *channelSink) Notify(_ context.Context, a types.Alert) error {
	select {
	case s.alerts <- a:
	default:
	}
	return nil
}

func yardZone() types.Zone {
	return types.Zone{
		ID: 1, CameraID: "camera-1", Name: "yard", AlertType: "intrusion", Active: true,
		Vertices: []types.Point{{X: 100, Y: 100}, {X: 400, Y: 100}, {X: 400, Y: 400}, {X: 100, Y: 400}},
	}
}

func newTestSession(t *testing.T, detector *staticDetector, zones *staticZones, sink alert.Sink) *Session {
	t.Helper()
	log := zerolog.Nop()
	m := metrics.New()

	camera := capture.NewSyntheticCamera(64, 48)
	g := gate.New(nil) // admit everything, the synthetic pattern changes anyway
	engine := zone.NewEngine(log)
	dispatcher := alert.NewDispatcher("camera-1", nil, []alert.Sink{sink}, log, m)
	broadcaster := render.NewBroadcaster(log, m)

	return NewSession(
		Config{
			CameraID: "camera-1",
			Capture: capture.Options{
				Interval:         10 * time.Millisecond,
				AcquireTimeout:   time.Second,
				FailureThreshold: 3,
			},
			QueueCapacity:  3,
			DetectTimeout:  time.Second,
			RenderInterval: 10 * time.Millisecond,
			JPEGQuality:    80,
		},
		camera, detector, g, engine, dispatcher, broadcaster, zones, log, m,
	)
}

func TestSessionEndToEndAlert(t *testing.T) {
	detector := &staticDetector{detections: []types.Detection{{
		Class: "person", Confidence: 0.9,
		BBox: types.BoundingBox{X1: 230, Y1: 230, X2: 270, Y2: 270},
	}}}
	sink := &channelSink{alerts: make(chan types.Alert, 8)}
	s := newTestSession(t, detector, &staticZones{zones: []types.Zone{yardZone()}}, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := s.Stop(); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	select {
	case a := <-sink.alerts:
		if a.ZoneID != 1 || a.ZoneName != "yard" {
			t.Errorf("unexpected alert: %+v", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no alert dispatched for a detection inside the zone")
	}

	// The detection persists, so no second alert follows.
	select {
	case a := <-sink.alerts:
		t.Fatalf("lingering detection produced a second alert: %+v", a)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSessionNoAlertOutsideZone(t *testing.T) {
	detector := &staticDetector{detections: []types.Detection{{
		Class: "person", Confidence: 0.9,
		BBox: types.BoundingBox{X1: 500, Y1: 500, X2: 540, Y2: 540},
	}}}
	sink := &channelSink{alerts: make(chan types.Alert, 8)}
	s := newTestSession(t, detector, &staticZones{zones: []types.Zone{yardZone()}}, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case a := <-sink.alerts:
		t.Fatalf("detection outside the zone produced an alert: %+v", a)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSessionDoubleStart(t *testing.T) {
	sink := &channelSink{alerts: make(chan types.Alert, 1)}
	s := newTestSession(t, &staticDetector{}, &staticZones{}, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second start: expected ErrRunning, got %v", err)
	}
}

func TestSessionStartFailsWhenZonesUnavailable(t *testing.T) {
	sink := &channelSink{alerts: make(chan types.Alert, 1)}
	s := newTestSession(t, &staticDetector{}, &staticZones{err: errors.New("db down")}, sink)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail when the zone load fails")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	sink := &channelSink{alerts: make(chan types.Alert, 1)}
	s := newTestSession(t, &staticDetector{}, &staticZones{}, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSessionReloadZones(t *testing.T) {
	zones := &staticZones{}
	sink := &channelSink{alerts: make(chan types.Alert, 8)}
	detector := &staticDetector{detections: []types.Detection{{
		Class: "person", Confidence: 0.9,
		BBox: types.BoundingBox{X1: 230, Y1: 230, X2: 270, Y2: 270},
	}}}
	s := newTestSession(t, detector, zones, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// No zones yet: nothing fires.
	select {
	case a := <-sink.alerts:
		t.Fatalf("alert with empty zone set: %+v", a)
	case <-time.After(200 * time.Millisecond):
	}

	zones.zones = []types.Zone{yardZone()}
	if err := s.ReloadZones(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	select {
	case a := <-sink.alerts:
		if a.ZoneID != 1 {
			t.Errorf("unexpected alert after reload: %+v", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no alert after the zone set was reloaded")
	}
}

func TestSessionQueueDropDoesNotGateSuccessor(t *testing.T) {
	log := zerolog.Nop()
	m := metrics.New()
	sink := &channelSink{alerts: make(chan types.Alert, 1)}
	dispatcher := alert.NewDispatcher("camera-1", nil, []alert.Sink{sink}, log, m)

	s := NewSession(
		Config{
			CameraID: "camera-1",
			Capture: capture.Options{
				Interval:         10 * time.Millisecond,
				AcquireTimeout:   time.Second,
				FailureThreshold: 3,
			},
			QueueCapacity:  1,
			DetectTimeout:  time.Second,
			RenderInterval: 10 * time.Millisecond,
			JPEGQuality:    80,
		},
		capture.NewSyntheticCamera(64, 48), &staticDetector{}, gate.New(gate.ByteIdentity()),
		zone.NewEngine(log), dispatcher, render.NewBroadcaster(log, m), &staticZones{}, log, m,
	)

	// The worker is not running, so the queue stays full after the first push.
	s.handleFrame(&types.Frame{Data: []byte("scene a"), Seq: 1})
	s.handleFrame(&types.Frame{Data: []byte("scene b"), Seq: 2})
	s.handleFrame(&types.Frame{Data: []byte("scene b"), Seq: 3})

	if got := m.FramesEnqueued.Load(); got != 1 {
		t.Errorf("frames_enqueued = %d, want 1", got)
	}
	if got := m.QueueDrops.Load(); got != 2 {
		t.Errorf("queue_drops = %d, want 2", got)
	}
	// Frame 2 never reached inference, so frame 3 must not be treated as a
	// duplicate of it.
	if got := m.FramesGated.Load(); got != 0 {
		t.Errorf("frames_gated = %d, want 0: a dropped frame suppressed its successor", got)
	}
}

func TestSessionStatus(t *testing.T) {
	sink := &channelSink{alerts: make(chan types.Alert, 1)}
	s := newTestSession(t, &staticDetector{}, &staticZones{zones: []types.Zone{yardZone()}}, sink)

	st := s.Status()
	if st.Running {
		t.Error("session reports running before start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st = s.Status()
		if st.FramesCaptured > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !st.Running {
		t.Error("session reports not running after start")
	}
	if st.CameraID != "camera-1" {
		t.Errorf("camera_id = %q", st.CameraID)
	}
	if st.FramesCaptured == 0 {
		t.Error("no frames captured")
	}
	if st.QueueCapacity != 3 {
		t.Errorf("queue capacity = %d, want 3", st.QueueCapacity)
	}
	if len(st.Zones) != 1 {
		t.Errorf("zones in status = %d, want 1", len(st.Zones))
	}
}
