// Package alert converts zone violation transitions into alert events and
// fans them out to notification and storage sinks. Dispatch is edge-triggered:
// only a Clear -> Violated transition produces an alert, so an object
// lingering in a zone never floods the sinks.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/zone"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// Sink accepts a dispatched alert. Sinks are fire-and-forget: an error is
// logged and never rolls the alert back or affects other sinks.
type Sink interface {
	Name() string
	Notify(ctx context.Context, a types.Alert) error
}

// Dispatcher turns violation transitions into alerts.
type Dispatcher struct {
	cameraID  string
	snapshots *SnapshotWriter // optional
	sinks     []Sink
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher creates a dispatcher. snapshots may be nil to disable frame
// snapshot files.
func NewDispatcher(cameraID string, snapshots *SnapshotWriter, sinks []Sink, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		cameraID:  cameraID,
		snapshots: snapshots,
		sinks:     sinks,
		log:       log.With().Str("component", "alerts").Logger(),
		metrics:   m,
	}
}

// Dispatch processes the transition set from one snapshot evaluation. frame
// is the frame that triggered the evaluation; its payload is saved alongside
// entering alerts when a snapshot writer is configured.
func (d *Dispatcher) Dispatch(ctx context.Context, transitions []zone.Transition, frame *types.Frame) {
	for _, tr := range transitions {
		if !tr.Violated {
			// Violated -> Clear: state change only, no alert.
			d.log.Debug().
				Int64("zone_id", tr.Zone.ID).
				Str("zone", tr.Zone.Name).
				Msg("zone cleared")
			continue
		}

		d.metrics.ZoneViolations.Add(1)

		a := types.Alert{
			ID:            uuid.NewString(),
			CameraID:      d.cameraID,
			ZoneID:        tr.Zone.ID,
			ZoneName:      tr.Zone.Name,
			AlertType:     tr.Zone.AlertType,
			DetectionType: "person",
			Confidence:    tr.Confidence,
			Timestamp:     tr.At,
		}

		if d.snapshots != nil && frame != nil {
			path, err := d.snapshots.Write(a, frame)
			if err != nil {
				d.log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to save alert snapshot")
			} else {
				a.SnapshotPath = path
			}
		}

		d.log.Info().
			Str("alert_id", a.ID).
			Int64("zone_id", a.ZoneID).
			Str("zone", a.ZoneName).
			Str("alert_type", a.AlertType).
			Float64("confidence", a.Confidence).
			Msg("zone violation alert")

		for _, sink := range d.sinks {
			d.notify(ctx, sink, a)
		}
		d.metrics.AlertsDispatched.Add(1)
	}
}

func (d *Dispatcher) notify(ctx context.Context, sink Sink, a types.Alert) {
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sink.Notify(notifyCtx, a); err != nil {
		d.log.Warn().
			Err(err).
			Str("sink", sink.Name()).
			Str("alert_id", a.ID).
			Msg("alert sink failed")
	}
}
