// Package render composites the latest frame, detection snapshot, and zone
// violation state into a displayable JPEG on a fixed high-rate clock. The
// renderer only reads published values; it never blocks or is blocked by the
// capture and inference loops.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/zone"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// FrameProvider exposes the latest captured frame and camera health.
type FrameProvider interface {
	Latest() *types.Frame
	Status() types.CameraStatus
}

// SnapshotProvider exposes the latest detection snapshot.
type SnapshotProvider interface {
	Latest() *types.DetectionSnapshot
}

// StateProvider exposes the active zone set and its current violation state.
type StateProvider interface {
	Zones() []types.Zone
	States() []zone.ViolationState
}

// Renderer draws the composited view on its own clock.
type Renderer struct {
	frames      FrameProvider
	snapshots   SnapshotProvider
	states      StateProvider
	broadcaster *Broadcaster
	interval    time.Duration
	quality     int
	log         zerolog.Logger
	metrics     *metrics.Metrics

	placeholderOnce sync.Once
	placeholder     []byte // rendered once, reused on every cold-start tick
}

// NewRenderer creates a renderer publishing into broadcaster.
func NewRenderer(frames FrameProvider, snapshots SnapshotProvider, states StateProvider, broadcaster *Broadcaster, interval time.Duration, quality int, log zerolog.Logger, m *metrics.Metrics) *Renderer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if quality < 1 || quality > 100 {
		quality = 80
	}
	return &Renderer{
		frames:      frames,
		snapshots:   snapshots,
		states:      states,
		broadcaster: broadcaster,
		interval:    interval,
		quality:     quality,
		log:         log.With().Str("component", "render").Logger(),
		metrics:     m,
	}
}

// Run renders on a fixed ticker until ctx is canceled.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("render loop started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("render loop stopped")
			return
		case <-ticker.C:
			if !r.broadcaster.HasClients() {
				continue
			}
			data := r.Compose()
			if data != nil {
				r.broadcaster.Publish(data)
			}
		}
	}
}

// Compose produces one composited JPEG from the current published values.
// Before the first frame arrives it returns a placeholder; it never fails on
// a missing snapshot or empty zone state.
func (r *Renderer) Compose() []byte {
	frame := r.frames.Latest()
	if frame == nil {
		return r.placeholderJPEG()
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		r.metrics.RenderErrors.Add(1)
		r.log.Warn().Err(err).Uint64("frame_seq", frame.Seq).Msg("failed to decode frame")
		return r.placeholderJPEG()
	}

	dc := gg.NewContextForImage(img)

	anyViolated := false
	var states []zone.ViolationState
	if r.states != nil {
		states = r.states.States()
		for _, st := range states {
			if st.Violated {
				anyViolated = true
			}
		}
		r.drawZones(dc, states)
	}

	var snapshot *types.DetectionSnapshot
	if r.snapshots != nil {
		snapshot = r.snapshots.Latest()
	}
	if snapshot != nil {
		r.drawDetections(dc, snapshot.Detections)
	}

	r.drawStatusLine(dc, frame, snapshot, anyViolated)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		r.metrics.RenderErrors.Add(1)
		r.log.Warn().Err(err).Msg("failed to encode composited frame")
		return nil
	}

	r.metrics.FramesRendered.Add(1)
	return buf.Bytes()
}

func (r *Renderer) drawZones(dc *gg.Context, states []zone.ViolationState) {
	violated := make(map[int64]bool, len(states))
	for _, st := range states {
		violated[st.ZoneID] = st.Violated
	}
	for _, z := range r.states.Zones() {
		r.drawZone(dc, z, violated[z.ID])
	}
}

func (r *Renderer) drawZone(dc *gg.Context, z types.Zone, violated bool) {
	if len(z.Vertices) < 3 {
		return
	}

	dc.NewSubPath()
	dc.MoveTo(z.Vertices[0].X, z.Vertices[0].Y)
	for _, v := range z.Vertices[1:] {
		dc.LineTo(v.X, v.Y)
	}
	dc.ClosePath()

	if violated {
		dc.SetRGBA(1, 0, 0, 0.35)
	} else {
		dc.SetRGBA(0, 1, 1, 0.2)
	}
	dc.FillPreserve()

	if violated {
		dc.SetRGBA(1, 0, 0, 1)
	} else {
		dc.SetRGBA(0, 1, 1, 1)
	}
	dc.SetLineWidth(2)
	dc.Stroke()

	dc.SetRGB(1, 1, 1)
	dc.DrawString(z.Name, z.Vertices[0].X+4, z.Vertices[0].Y-6)
}

func (r *Renderer) drawDetections(dc *gg.Context, detections []types.Detection) {
	for _, d := range detections {
		b := d.BBox
		dc.SetRGBA(0, 1, 0, 1)
		dc.SetLineWidth(2)
		dc.DrawRectangle(b.X1, b.Y1, b.X2-b.X1, b.Y2-b.Y1)
		dc.Stroke()

		cx, cy := b.Center()
		dc.DrawCircle(cx, cy, 3)
		dc.Fill()

		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		tw, th := dc.MeasureString(label)
		dc.SetRGBA(0, 1, 0, 0.9)
		dc.DrawRectangle(b.X1, b.Y1-th-6, tw+8, th+6)
		dc.Fill()
		dc.SetRGB(0, 0, 0)
		dc.DrawString(label, b.X1+4, b.Y1-5)
	}
}

func (r *Renderer) drawStatusLine(dc *gg.Context, frame *types.Frame, snapshot *types.DetectionSnapshot, anyViolated bool) {
	status := "clear"
	if anyViolated {
		status = "VIOLATED"
	}
	detections := 0
	if snapshot != nil {
		detections = len(snapshot.Detections)
	}
	line := fmt.Sprintf("frame %d  %s  detections: %d  camera: %s  %s",
		frame.Seq,
		frame.Timestamp.Format("15:04:05"),
		detections,
		r.frames.Status(),
		status,
	)

	tw, th := dc.MeasureString(line)
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRectangle(6, 6, tw+12, th+10)
	dc.Fill()
	if anyViolated {
		dc.SetRGB(1, 0.3, 0.3)
	} else {
		dc.SetRGB(1, 1, 1)
	}
	dc.DrawString(line, 12, 12+th)
}

// placeholderJPEG returns the cold-start view: color bars and a waiting
// message. Rendered exactly once; Compose is called from the render loop and
// from every stream handler, so the cache must not be written concurrently.
func (r *Renderer) placeholderJPEG() []byte {
	r.placeholderOnce.Do(r.renderPlaceholder)
	return r.placeholder
}

func (r *Renderer) renderPlaceholder() {
	const w, h = 640, 480
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bars := []color.RGBA{
		{255, 255, 255, 255},
		{255, 255, 0, 255},
		{0, 255, 255, 255},
		{0, 255, 0, 255},
		{255, 0, 255, 255},
		{255, 0, 0, 255},
		{0, 0, 255, 255},
		{0, 0, 0, 255},
	}
	barWidth := w / len(bars)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := x / barWidth
			if idx >= len(bars) {
				idx = len(bars) - 1
			}
			img.Set(x, y, bars[idx])
		}
	}

	dc := gg.NewContextForImage(img)
	msg := "waiting for camera"
	tw, th := dc.MeasureString(msg)
	dc.SetRGBA(0, 0, 0, 0.7)
	dc.DrawRectangle((w-tw)/2-10, float64(h)/2-th, tw+20, th*2+8)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawString(msg, (w-tw)/2, float64(h)/2+th/2)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		r.log.Error().Err(err).Msg("failed to encode placeholder")
		return
	}
	r.placeholder = buf.Bytes()
}
