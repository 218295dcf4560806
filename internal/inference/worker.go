package inference

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// SnapshotSink receives each published snapshot together with the frame it
// was computed from. The zone engine and alert dispatcher hang off this hook.
type SnapshotSink func(*types.DetectionSnapshot, *types.Frame)

// Worker is the single-flight inference consumer: one goroutine, at most one
// detection call in flight. A failed or timed-out call publishes nothing and
// the loop resumes with the next queued frame.
type Worker struct {
	queue    *Queue
	detector Detector
	timeout  time.Duration
	sink     SnapshotSink
	log      zerolog.Logger
	metrics  *metrics.Metrics

	latest atomic.Pointer[types.DetectionSnapshot]
}

// NewWorker creates a worker draining queue into detector.
func NewWorker(queue *Queue, detector Detector, timeout time.Duration, sink SnapshotSink, log zerolog.Logger, m *metrics.Metrics) *Worker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Worker{
		queue:    queue,
		detector: detector,
		timeout:  timeout,
		sink:     sink,
		log:      log.With().Str("component", "inference").Logger(),
		metrics:  m,
	}
}

// Latest returns the most recently published snapshot, or nil before the
// first successful inference. Snapshots are immutable.
func (w *Worker) Latest() *types.DetectionSnapshot {
	return w.latest.Load()
}

// Run consumes the queue until ctx is canceled. An in-flight detection call
// is never aborted by cancellation: its deadline is the configured timeout,
// and Run returns only after the call completes or times out. A canceled
// context never starts a new call, even with frames still queued.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Dur("timeout", w.timeout).Int("queue_capacity", w.queue.Cap()).Msg("inference worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("inference worker stopped")
			return
		case frame := <-w.queue.Frames():
			if ctx.Err() != nil {
				w.log.Info().Msg("inference worker stopped")
				return
			}
			w.metrics.QueueDepth.Store(uint64(w.queue.Depth()))
			w.process(frame)
		}
	}
}

func (w *Worker) process(frame *types.Frame) {
	// Deliberately detached from the loop context so shutdown lets the call
	// finish or hit its own deadline.
	callCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	start := time.Now()
	detections, err := w.detector.Detect(callCtx, frame.Data)
	w.metrics.ObserveInference(time.Since(start), err)

	if err != nil {
		w.log.Warn().
			Err(err).
			Uint64("frame_seq", frame.Seq).
			Dur("elapsed", time.Since(start)).
			Msg("inference failed, no snapshot published")
		return
	}

	snapshot := &types.DetectionSnapshot{
		Detections:  detections,
		FrameSeq:    frame.Seq,
		CompletedAt: time.Now(),
	}
	w.latest.Store(snapshot)
	w.metrics.SnapshotsPublish.Add(1)

	w.log.Debug().
		Uint64("frame_seq", frame.Seq).
		Int("detections", len(detections)).
		Dur("latency", time.Since(start)).
		Msg("snapshot published")

	if w.sink != nil {
		w.sink(snapshot, frame)
	}
}
