package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// LogSink writes each alert as a structured log line. Always succeeds.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink logging through the given logger.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, a types.Alert) error {
	s.log.Info().
		Str("alert_id", a.ID).
		Str("camera_id", a.CameraID).
		Int64("zone_id", a.ZoneID).
		Str("zone", a.ZoneName).
		Str("alert_type", a.AlertType).
		Float64("confidence", a.Confidence).
		Time("at", a.Timestamp).
		Msg("ALERT")
	return nil
}

// WebhookSink POSTs each alert as JSON to a configured URL. Non-2xx
// responses are errors; the dispatcher logs them and moves on.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Notify(ctx context.Context, a types.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
