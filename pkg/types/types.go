package types

import "time"

// Frame is a single captured camera frame.
// The pipeline treats Data as immutable once published; stages that need to
// keep a frame beyond the current tick must work with the published pointer,
// never mutate it.
type Frame struct {
	Data      []byte    // Encoded image payload (JPEG)
	Timestamp time.Time // Capture timestamp
	Seq       uint64    // Monotonically increasing sequence number
}

// BoundingBox is an axis-aligned box in frame pixel coordinates.
// Invariant: X1 <= X2 and Y1 <= Y2. Normalized at the detector boundary.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is a single object reported by the detection service.
type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"` // in [0,1]
	BBox       BoundingBox `json:"bbox"`
}

// DetectionSnapshot is the result of one inference call. Immutable once
// published; a newer snapshot replaces an older one, never merges with it.
type DetectionSnapshot struct {
	Detections  []Detection
	FrameSeq    uint64    // Sequence number of the frame inference ran on
	CompletedAt time.Time // When inference finished
}

// Point is a polygon vertex in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a user-defined simple polygon marking a region of interest.
// Vertices must have at least 3 points; zones that do not are skipped by the
// engine, never fatal.
type Zone struct {
	ID        int64   `json:"id"`
	CameraID  string  `json:"camera_id"`
	Name      string  `json:"name"`
	Vertices  []Point `json:"coordinates"`
	AlertType string  `json:"alert_type"`
	Active    bool    `json:"active"`
}

// Alert is created on a Clear -> Violated transition of a zone, never on
// repeated evaluation while the zone stays violated.
type Alert struct {
	ID            string    `json:"id"`
	CameraID      string    `json:"camera_id"`
	ZoneID        int64     `json:"zone_id"`
	ZoneName      string    `json:"zone_name"`
	AlertType     string    `json:"alert_type"`
	DetectionType string    `json:"detection_type"`
	Confidence    float64   `json:"confidence"`
	SnapshotPath  string    `json:"snapshot_path,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CameraStatus reflects the health of the capture loop.
type CameraStatus int

const (
	CameraOnline CameraStatus = iota
	CameraDegraded
	CameraOffline
)

// String returns the status name used in logs and the status API.
func (s CameraStatus) String() string {
	switch s {
	case CameraOnline:
		return "online"
	case CameraDegraded:
		return "degraded"
	case CameraOffline:
		return "offline"
	default:
		return "unknown"
	}
}
