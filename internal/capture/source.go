package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// Options configures a Source.
type Options struct {
	Interval         time.Duration // capture period
	AcquireTimeout   time.Duration // per-tick camera deadline
	FailureThreshold int           // consecutive failures before the camera is reported offline
}

// Source drives the capture loop: one camera acquisition per tick, publishing
// the result as the latest frame. A failed tick never stops the loop; the
// downstream stages simply see no update.
type Source struct {
	camera   Camera
	opts     Options
	log      zerolog.Logger
	metrics  *metrics.Metrics
	onFrame  func(*types.Frame)       // downstream hook (change gate), may be nil
	onStatus func(types.CameraStatus) // camera health hook, may be nil

	latest atomic.Pointer[types.Frame]
	seq    atomic.Uint64
	status atomic.Int32
	streak int // consecutive failures, touched only by Run
}

// NewSource creates a capture source. onFrame receives every successfully
// captured frame; onStatus fires on camera health transitions.
func NewSource(camera Camera, opts Options, log zerolog.Logger, m *metrics.Metrics, onFrame func(*types.Frame), onStatus func(types.CameraStatus)) *Source {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 10
	}
	s := &Source{
		camera:   camera,
		opts:     opts,
		log:      log.With().Str("component", "capture").Logger(),
		metrics:  m,
		onFrame:  onFrame,
		onStatus: onStatus,
	}
	s.status.Store(int32(types.CameraOnline))
	return s
}

// Latest returns the most recently published frame, or nil before the first
// successful capture. The returned frame is immutable.
func (s *Source) Latest() *types.Frame {
	return s.latest.Load()
}

// Status returns the current camera health.
func (s *Source) Status() types.CameraStatus {
	return types.CameraStatus(s.status.Load())
}

// Run executes the capture loop until ctx is canceled. It does not close the
// camera; the owning session releases it after all loops have stopped.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.opts.Interval).
		Dur("acquire_timeout", s.opts.AcquireTimeout).
		Msg("capture loop started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Uint64("frames", s.seq.Load()).Msg("capture loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Source) tick(ctx context.Context) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	data, err := s.camera.AcquireFrame(acquireCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return // shutting down, not a capture failure
		}
		s.metrics.CaptureErrors.Add(1)
		s.streak++
		s.log.Warn().Err(err).Int("streak", s.streak).Msg("frame acquisition failed")
		if s.streak >= s.opts.FailureThreshold {
			s.setStatus(types.CameraOffline)
		} else {
			s.setStatus(types.CameraDegraded)
		}
		return
	}

	if s.streak > 0 {
		s.streak = 0
		s.setStatus(types.CameraOnline)
	}

	frame := &types.Frame{
		Data:      data,
		Timestamp: time.Now(),
		Seq:       s.seq.Add(1),
	}
	s.latest.Store(frame)
	s.metrics.FramesCaptured.Add(1)

	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

func (s *Source) setStatus(st types.CameraStatus) {
	prev := types.CameraStatus(s.status.Swap(int32(st)))
	if prev == st {
		return
	}
	s.log.Warn().
		Str("from", prev.String()).
		Str("to", st.String()).
		Msg("camera status changed")
	if s.onStatus != nil {
		s.onStatus(st)
	}
}
