package inference

import (
	"errors"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// ErrQueueFull is returned when a frame is offered to a saturated queue.
var ErrQueueFull = errors.New("inference queue full")

// Queue is the bounded backlog of frames awaiting inference. Push never
// blocks: when the queue is full the incoming frame is dropped, keeping the
// existing backlog intact and the capture loop unaffected.
type Queue struct {
	ch chan *types.Frame
}

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan *types.Frame, capacity)}
}

// Push offers a frame without blocking. Returns ErrQueueFull when the frame
// was dropped.
func (q *Queue) Push(f *types.Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// Frames exposes the receive side for the worker loop.
func (q *Queue) Frames() <-chan *types.Frame {
	return q.ch
}

// Depth returns the current backlog length.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
