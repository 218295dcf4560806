package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	mjpegBoundary  = []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	mjpegDelimiter = []byte("\r\n")
)

// stream serves the composited view as multipart MJPEG. Each client gets its
// own broadcaster subscription; slow clients skip frames instead of stalling
// the renderer.
func (s *Server) stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")

	id, frames := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	// First frame right away so the client never stares at an empty
	// connection while the render ticker spins up.
	if s.composer != nil {
		if data := s.composer.Compose(); data != nil {
			if !writeMJPEGFrame(c, flusher, data) {
				return
			}
		}
	}

	keepalive := time.NewTicker(5 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case data, open := <-frames:
			if !open {
				return
			}
			if !writeMJPEGFrame(c, flusher, data) {
				return
			}
			keepalive.Reset(5 * time.Second)
		case <-keepalive.C:
			// No published frame for a while; recompose to keep the
			// connection alive.
			if s.composer == nil {
				continue
			}
			data := s.composer.Compose()
			if data == nil {
				continue
			}
			if !writeMJPEGFrame(c, flusher, data) {
				return
			}
		}
	}
}

func writeMJPEGFrame(c *gin.Context, flusher http.Flusher, data []byte) bool {
	if _, err := c.Writer.Write(mjpegBoundary); err != nil {
		return false
	}
	if _, err := c.Writer.Write(data); err != nil {
		return false
	}
	if _, err := c.Writer.Write(mjpegDelimiter); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
