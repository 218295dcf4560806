package store

import (
	"context"
	"fmt"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// AlertSink adapts the alert repository to the dispatcher's sink interface so
// every dispatched alert lands in the alerts table.
type AlertSink struct {
	alerts *AlertRepository
}

// NewAlertSink wraps the repository as a sink.
func NewAlertSink(alerts *AlertRepository) *AlertSink {
	return &AlertSink{alerts: alerts}
}

func (s *AlertSink) Name() string { return "db" }

func (s *AlertSink) Notify(ctx context.Context, a types.Alert) error {
	if err := s.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	return nil
}
