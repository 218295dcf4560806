// Package api exposes the HTTP surface: zone management, alert history,
// pipeline status, health, and the live MJPEG stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/monitor"
	"github.com/civicsentinel/zonewatch/internal/render"
	"github.com/civicsentinel/zonewatch/internal/store"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

// ZoneStore is the zone persistence surface the handlers need.
type ZoneStore interface {
	List(ctx context.Context, cameraID string) ([]types.Zone, error)
	Get(ctx context.Context, id int64) (types.Zone, error)
	Create(ctx context.Context, z *types.Zone) error
	Update(ctx context.Context, z types.Zone) error
	Delete(ctx context.Context, id int64) error
}

// AlertStore is the alert history surface the handlers need.
type AlertStore interface {
	List(ctx context.Context, f store.AlertFilter) ([]types.Alert, int64, error)
}

// Pipeline is what the handlers may ask of the running monitoring session.
type Pipeline interface {
	Status() monitor.Status
	ReloadZones(ctx context.Context) error
}

// Composer produces one composited frame on demand, used for the first frame
// of a new stream client.
type Composer interface {
	Compose() []byte
}

// Server wires the gin router and the underlying http.Server.
type Server struct {
	httpServer  *http.Server
	router      *gin.Engine
	zones       ZoneStore
	alerts      AlertStore
	pipeline    Pipeline
	broadcaster *render.Broadcaster
	composer    Composer
	ping        func(ctx context.Context) error
	cameraID    string
	log         zerolog.Logger
}

// Options carries the server dependencies.
type Options struct {
	Addr           string
	APIKey         string
	AllowedOrigins []string
	CameraID       string
	Zones          ZoneStore
	Alerts         AlertStore
	Pipeline       Pipeline
	Broadcaster    *render.Broadcaster
	Composer       Composer
	Ping           func(ctx context.Context) error // optional DB health probe
}

// NewServer builds the router and registers all routes.
func NewServer(opts Options, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 1 && opts.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-API-Key")
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		zones:       opts.Zones,
		alerts:      opts.Alerts,
		pipeline:    opts.Pipeline,
		broadcaster: opts.Broadcaster,
		composer:    opts.Composer,
		ping:        opts.Ping,
		cameraID:    opts.CameraID,
		log:         log.With().Str("component", "api").Logger(),
	}

	router.GET("/health", s.health)
	router.GET("/stream", s.stream)

	v1 := router.Group("/api/v1")
	if opts.APIKey != "" {
		v1.Use(apiKeyAuth(opts.APIKey))
	}
	{
		v1.GET("/status", s.status)
		v1.GET("/zones", s.listZones)
		v1.POST("/zones", s.createZone)
		v1.GET("/zones/:id", s.getZone)
		v1.PUT("/zones/:id", s.updateZone)
		v1.DELETE("/zones/:id", s.deleteZone)
		v1.GET("/alerts", s.listAlerts)
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
