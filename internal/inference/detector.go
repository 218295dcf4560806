package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// Detector is the external detection capability: image bytes in, detections
// out. Errors and timeouts are failed attempts, never fatal to the pipeline.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]types.Detection, error)
}

// HTTPDetector calls a remote detection service over HTTP, posting the frame
// as a multipart upload and validating the response shape at the boundary.
type HTTPDetector struct {
	endpoint string
	apiKey   string
	cameraID string
	minConf  float64
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPDetector creates a detector client. The per-call deadline comes from
// the caller's context; the underlying http.Client carries no timeout of its
// own.
func NewHTTPDetector(endpoint, apiKey, cameraID string, minConfidence float64, log zerolog.Logger) *HTTPDetector {
	return &HTTPDetector{
		endpoint: endpoint,
		apiKey:   apiKey,
		cameraID: cameraID,
		minConf:  minConfidence,
		client:   &http.Client{},
		log:      log.With().Str("component", "detector").Logger(),
	}
}

type detectionWire struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       struct {
		X1 float64 `json:"x1"`
		Y1 float64 `json:"y1"`
		X2 float64 `json:"x2"`
		Y2 float64 `json:"y2"`
	} `json:"bbox"`
}

type detectResponseWire struct {
	Detections []detectionWire `json:"detections"`
}

// Detect posts the image and returns the validated detections.
func (d *HTTPDetector) Detect(ctx context.Context, image []byte) ([]types.Detection, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.WriteField("camera_id", d.cameraID); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if d.apiKey != "" {
		req.Header.Set("X-API-Key", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var wire detectResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode detection response: %w", err)
	}

	return d.validate(wire.Detections), nil
}

// validate converts wire detections to the fixed-shape domain type. Malformed
// entries are dropped with a warning rather than failing the whole call.
func (d *HTTPDetector) validate(wire []detectionWire) []types.Detection {
	out := make([]types.Detection, 0, len(wire))
	for _, w := range wire {
		if w.Confidence < 0 || w.Confidence > 1 {
			d.log.Warn().
				Str("class", w.Class).
				Float64("confidence", w.Confidence).
				Msg("dropping detection with out-of-range confidence")
			continue
		}
		if w.Confidence < d.minConf {
			continue
		}
		bbox := types.BoundingBox{X1: w.BBox.X1, Y1: w.BBox.Y1, X2: w.BBox.X2, Y2: w.BBox.Y2}
		if bbox.X1 > bbox.X2 {
			bbox.X1, bbox.X2 = bbox.X2, bbox.X1
		}
		if bbox.Y1 > bbox.Y2 {
			bbox.Y1, bbox.Y2 = bbox.Y2, bbox.Y1
		}
		out = append(out, types.Detection{
			Class:      w.Class,
			Confidence: w.Confidence,
			BBox:       bbox,
		})
	}
	return out
}
