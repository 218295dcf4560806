// Package gate decides whether a freshly captured frame is worth sending to
// inference. The policy is a pluggable predicate: the baseline skips frames
// that are byte-identical to the last submitted one, and a pixel-delta
// predicate tolerates compression jitter on near-static scenes.
package gate

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/cespare/xxhash/v2"
	xdraw "golang.org/x/image/draw"
)

// Predicate reports whether next should be submitted for inference, given the
// payload of the last frame that was actually submitted. prev is nil for the
// first frame, which is always submitted.
type Predicate func(prev, next []byte) bool

// Gate tracks the last submitted frame and applies a Predicate to each new
// capture. Admit and Commit run on the capture loop; Reset may come from any
// goroutine when the zone set changes.
type Gate struct {
	mu   sync.Mutex
	pred Predicate
	last []byte
}

// New creates a Gate with the given predicate. A nil predicate admits every
// frame.
func New(pred Predicate) *Gate {
	if pred == nil {
		pred = func(prev, next []byte) bool { return true }
	}
	return &Gate{pred: pred}
}

// Admit reports whether the frame passes the gate against the last committed
// frame. It records nothing; call Commit once the frame has actually reached
// inference, so a frame dropped downstream never suppresses an identical
// successor.
func (g *Gate) Admit(data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.last == nil || g.pred(g.last, data)
}

// Commit records data as the last submitted frame.
func (g *Gate) Commit(data []byte) {
	g.mu.Lock()
	g.last = data
	g.mu.Unlock()
}

// Reset forgets the last submitted frame, so the next capture always passes.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = nil
	g.mu.Unlock()
}

// ByteIdentity submits a frame only if its payload differs from the previous
// submission. Digests are compared instead of full payloads so repeated
// static frames cost one hash each.
func ByteIdentity() Predicate {
	return func(prev, next []byte) bool {
		if len(prev) != len(next) {
			return true
		}
		if xxhash.Sum64(prev) != xxhash.Sum64(next) {
			return true
		}
		return !bytes.Equal(prev, next)
	}
}

const thumbSize = 32

// PixelDelta submits a frame when the mean absolute luma difference of
// downsampled thumbnails exceeds threshold (0..255 scale). Frames that fail
// to decode are submitted, letting the detector boundary report the problem.
func PixelDelta(threshold float64) Predicate {
	return func(prev, next []byte) bool {
		a, err := thumbnail(prev)
		if err != nil {
			return true
		}
		b, err := thumbnail(next)
		if err != nil {
			return true
		}
		return meanAbsDiff(a, b) > threshold
	}
}

func thumbnail(data []byte) (*image.Gray, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := image.NewGray(image.Rect(0, 0, thumbSize, thumbSize))
	xdraw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return thumb, nil
}

func meanAbsDiff(a, b *image.Gray) float64 {
	var total int
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		total += d
	}
	return float64(total) / float64(len(a.Pix))
}
