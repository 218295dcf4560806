package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/alert"
	"github.com/civicsentinel/zonewatch/internal/api"
	"github.com/civicsentinel/zonewatch/internal/capture"
	"github.com/civicsentinel/zonewatch/internal/config"
	"github.com/civicsentinel/zonewatch/internal/gate"
	"github.com/civicsentinel/zonewatch/internal/inference"
	"github.com/civicsentinel/zonewatch/internal/logger"
	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/monitor"
	"github.com/civicsentinel/zonewatch/internal/render"
	"github.com/civicsentinel/zonewatch/internal/store"
	"github.com/civicsentinel/zonewatch/internal/zone"
)

var configPath = flag.String("config", "", "Path to config file (YAML)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("camera_id", cfg.Camera.ID).Msg("zonewatch starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("zonewatch failed")
	}
	log.Info().Msg("zonewatch stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New()

	db, err := store.Open(cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	zoneRepo := store.NewZoneRepository(db)
	alertRepo := store.NewAlertRepository(db)

	camera, err := openCamera(cfg)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	detector := inference.NewHTTPDetector(
		cfg.Detect.Endpoint,
		cfg.Detect.APIKey,
		cfg.Camera.ID,
		cfg.Detect.MinConfidence,
		log,
	)

	g := gate.New(gatePredicate(cfg))
	engine := zone.NewEngine(log)

	snapshots, err := alert.NewSnapshotWriter(cfg.Alerts.SnapshotDir)
	if err != nil {
		return fmt.Errorf("snapshot writer: %w", err)
	}
	sinks := []alert.Sink{
		alert.NewLogSink(log),
		store.NewAlertSink(alertRepo),
	}
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.WebhookURL))
	}
	dispatcher := alert.NewDispatcher(cfg.Camera.ID, snapshots, sinks, log, m)

	broadcaster := render.NewBroadcaster(log, m)

	session := monitor.NewSession(
		monitor.Config{
			CameraID: cfg.Camera.ID,
			Capture: capture.Options{
				Interval:         cfg.Capture.Interval,
				AcquireTimeout:   cfg.Capture.AcquireTimeout,
				FailureThreshold: cfg.Capture.FailureThreshold,
			},
			QueueCapacity:  cfg.Detect.QueueCapacity,
			DetectTimeout:  cfg.Detect.Timeout,
			RenderInterval: cfg.Render.Interval,
			JPEGQuality:    cfg.Render.JPEGQuality,
		},
		camera, detector, g, engine, dispatcher, broadcaster, zoneRepo, log, m,
	)

	server := api.NewServer(api.Options{
		Addr:           cfg.HTTP.Addr,
		APIKey:         cfg.HTTP.APIKey,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		CameraID:       cfg.Camera.ID,
		Zones:          zoneRepo,
		Alerts:         alertRepo,
		Pipeline:       session,
		Broadcaster:    broadcaster,
		Composer:       session.Renderer(),
		Ping:           func(ctx context.Context) error { return store.Ping(ctx, db) },
	}, log)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = session.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	go func() {
		if err := m.StartServer(cfg.Metrics.Addr); err != nil {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown failed")
	}
	if err := session.Stop(); err != nil {
		log.Warn().Err(err).Msg("session stop failed")
	}
	return nil
}

func openCamera(cfg *config.Config) (capture.Camera, error) {
	if cfg.Camera.Source == "" || cfg.Camera.Source == "synthetic" {
		return capture.NewSyntheticCamera(cfg.Camera.Width, cfg.Camera.Height), nil
	}
	if _, err := os.Stat(cfg.Camera.Source); err != nil {
		return nil, fmt.Errorf("video source %s: %w", cfg.Camera.Source, err)
	}
	return capture.NewFileCamera(cfg.Camera.Source), nil
}

func gatePredicate(cfg *config.Config) gate.Predicate {
	if cfg.Gate.Mode == "pixels" {
		return gate.PixelDelta(cfg.Gate.PixelThreshold)
	}
	return gate.ByteIdentity()
}
