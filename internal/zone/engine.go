// Package zone evaluates detection snapshots against user-defined polygons
// and tracks per-zone violation state across snapshots.
package zone

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// Transition records a zone whose violation value changed between two
// consecutive snapshots.
type Transition struct {
	Zone       types.Zone
	Violated   bool      // new value
	Confidence float64   // highest confidence among containing detections (entering only)
	At         time.Time // evaluation time
}

// ViolationState is the externally visible per-zone state.
type ViolationState struct {
	ZoneID   int64     `json:"zone_id"`
	ZoneName string    `json:"zone_name"`
	Violated bool      `json:"violated"`
	Since    time.Time `json:"since"` // timestamp of the last transition
}

type zoneState struct {
	violated bool
	since    time.Time
}

// Engine holds the active zone set for a monitoring session and mutates
// violation state as snapshots arrive. All state lives behind one mutex; the
// inference worker is the only writer, the status API reads concurrently.
type Engine struct {
	log zerolog.Logger

	mu    sync.Mutex
	zones []types.Zone
	state map[int64]*zoneState
}

// NewEngine creates an engine with an empty zone set.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:   log.With().Str("component", "zones").Logger(),
		state: make(map[int64]*zoneState),
	}
}

// SetZones installs the active zone set and resets every zone to Clear.
// Inactive and malformed zones are dropped here so Evaluate never sees them.
func (e *Engine) SetZones(zones []types.Zone) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.zones = e.zones[:0]
	e.state = make(map[int64]*zoneState, len(zones))
	now := time.Now()

	for _, z := range zones {
		if !z.Active {
			continue
		}
		if len(z.Vertices) < 3 {
			e.log.Warn().
				Int64("zone_id", z.ID).
				Str("zone", z.Name).
				Int("vertices", len(z.Vertices)).
				Msg("skipping zone with fewer than 3 vertices")
			continue
		}
		e.zones = append(e.zones, z)
		e.state[z.ID] = &zoneState{since: now}
	}

	e.log.Info().Int("zones", len(e.zones)).Msg("active zone set installed")
}

// Evaluate computes the new violation value for every zone from the snapshot
// and returns the zones whose value changed. A zone is violated iff at least
// one detection center is contained in its polygon.
func (e *Engine) Evaluate(snapshot *types.DetectionSnapshot) []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	var transitions []Transition

	for _, z := range e.zones {
		violated, confidence := containsAny(z, snapshot.Detections)

		st := e.state[z.ID]
		if st.violated == violated {
			continue
		}
		st.violated = violated
		st.since = now

		transitions = append(transitions, Transition{
			Zone:       z,
			Violated:   violated,
			Confidence: confidence,
			At:         now,
		})
	}

	return transitions
}

func containsAny(z types.Zone, detections []types.Detection) (bool, float64) {
	violated := false
	best := 0.0
	for _, d := range detections {
		cx, cy := d.BBox.Center()
		if ContainsPoint(cx, cy, z.Vertices) {
			violated = true
			if d.Confidence > best {
				best = d.Confidence
			}
		}
	}
	return violated, best
}

// Zones returns a copy of the active zone set.
func (e *Engine) Zones() []types.Zone {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Zone, len(e.zones))
	copy(out, e.zones)
	return out
}

// States returns a copy of the current per-zone violation state.
func (e *Engine) States() []ViolationState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ViolationState, 0, len(e.zones))
	for _, z := range e.zones {
		st := e.state[z.ID]
		out = append(out, ViolationState{
			ZoneID:   z.ID,
			ZoneName: z.Name,
			Violated: st.violated,
			Since:    st.since,
		})
	}
	return out
}
