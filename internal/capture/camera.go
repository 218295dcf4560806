package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrCameraUnavailable is returned when a frame cannot be acquired. The
// capture loop logs it and keeps ticking.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Camera supplies one encoded frame per call. Implementations must honor ctx
// cancellation and return within its deadline.
type Camera interface {
	AcquireFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// FileCamera replays a video file frame by frame through ffmpeg, looping back
// to the start when the file is exhausted.
type FileCamera struct {
	mu     sync.Mutex
	path   string
	next   int
	closed bool
}

// NewFileCamera creates a camera backed by a video file.
func NewFileCamera(path string) *FileCamera {
	return &FileCamera{path: path}
}

// AcquireFrame extracts the next frame as JPEG. A failed extraction at the
// current position is retried once from frame zero before giving up, so a
// finite file behaves like an endless stream.
func (c *FileCamera) AcquireFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: camera closed", ErrCameraUnavailable)
	}
	n := c.next
	c.next++
	c.mu.Unlock()

	data, err := c.extract(ctx, n)
	if err == nil && len(data) > 0 {
		return data, nil
	}

	// Past end of file: rewind and retry from the first frame.
	c.mu.Lock()
	c.next = 1
	c.mu.Unlock()

	data, err = c.extract(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame from %s", ErrCameraUnavailable, c.path)
	}
	return data, nil
}

func (c *FileCamera) extract(ctx context.Context, frameNum int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)

	done := make(chan error, 1)
	go func() {
		done <- ffmpeg.Input(c.path).
			Filter("select", ffmpeg.Args{fmt.Sprintf("gte(n,%d)", frameNum)}).
			Output("pipe:", ffmpeg.KwArgs{"vframes": 1, "format": "image2", "vcodec": "mjpeg"}).
			Silent(true).
			WithOutput(buf).
			Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case <-ctx.Done():
		// ffmpeg finishes on its own; the tick is already counted as failed.
		return nil, ctx.Err()
	}
}

// Close releases the camera. Subsequent AcquireFrame calls fail.
func (c *FileCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SyntheticCamera produces a shifting gradient test pattern. Used when no
// real source is configured and in development.
type SyntheticCamera struct {
	mu     sync.Mutex
	width  int
	height int
	tick   int
	closed bool
}

// NewSyntheticCamera creates a test-pattern camera of the given dimensions.
func NewSyntheticCamera(width, height int) *SyntheticCamera {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &SyntheticCamera{width: width, height: height}
}

// AcquireFrame renders the pattern for the current tick and encodes it as
// JPEG. The pattern shifts every call so consecutive frames differ.
func (c *SyntheticCamera) AcquireFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: camera closed", ErrCameraUnavailable)
	}
	tick := c.tick
	c.tick++
	w, h := c.width, c.height
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + tick) * 255 / w),
				G: uint8(y * 255 / h),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("%w: encode pattern: %v", ErrCameraUnavailable, err)
	}
	return buf.Bytes(), nil
}

// Close releases the camera.
func (c *SyntheticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
