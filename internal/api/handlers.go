package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/civicsentinel/zonewatch/internal/store"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

type zoneRequest struct {
	Name        string        `json:"name" binding:"required"`
	Coordinates []types.Point `json:"coordinates" binding:"required"`
	AlertType   string        `json:"alert_type"`
	Active      *bool         `json:"active"`
}

func (r *zoneRequest) toZone(cameraID string) types.Zone {
	z := types.Zone{
		CameraID:  cameraID,
		Name:      r.Name,
		Vertices:  r.Coordinates,
		AlertType: r.AlertType,
		Active:    true,
	}
	if z.AlertType == "" {
		z.AlertType = "intrusion"
	}
	if r.Active != nil {
		z.Active = *r.Active
	}
	return z
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
		resp["db"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Status())
}

func (s *Server) listZones(c *gin.Context) {
	zones, err := s.zones.List(c.Request.Context(), s.cameraID)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(zones))
}

func (s *Server) getZone(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid zone id"))
		return
	}

	z, err := s.zones.Get(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(z))
}

func (s *Server) createZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if len(req.Coordinates) < 3 {
		c.JSON(http.StatusBadRequest, errorResponse("zone needs at least 3 coordinates"))
		return
	}

	z := req.toZone(s.cameraID)
	if err := s.zones.Create(c.Request.Context(), &z); err != nil {
		s.handleError(c, err)
		return
	}

	s.reloadZones(c)
	c.JSON(http.StatusCreated, successResponse(z))
}

func (s *Server) updateZone(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid zone id"))
		return
	}

	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if len(req.Coordinates) < 3 {
		c.JSON(http.StatusBadRequest, errorResponse("zone needs at least 3 coordinates"))
		return
	}

	z := req.toZone(s.cameraID)
	z.ID = id
	if err := s.zones.Update(c.Request.Context(), z); err != nil {
		s.handleError(c, err)
		return
	}

	s.reloadZones(c)
	c.JSON(http.StatusOK, successResponse(z))
}

func (s *Server) deleteZone(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid zone id"))
		return
	}

	if err := s.zones.Delete(c.Request.Context(), id); err != nil {
		s.handleError(c, err)
		return
	}

	s.reloadZones(c)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listAlerts(c *gin.Context) {
	filter := store.AlertFilter{CameraID: s.cameraID}

	if z := c.Query("zone_id"); z != "" {
		id, err := strconv.ParseInt(z, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid zone_id"))
			return
		}
		filter.ZoneID = id
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	alerts, total, err := s.alerts.List(c.Request.Context(), filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   alerts,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// reloadZones pushes the new zone set into the running session. Failure is
// logged, not surfaced: the mutation already committed.
func (s *Server) reloadZones(c *gin.Context) {
	if s.pipeline == nil {
		return
	}
	if err := s.pipeline.ReloadZones(c.Request.Context()); err != nil {
		s.log.Warn().Err(err).Msg("failed to reload zones into pipeline")
	}
}

func (s *Server) handleError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
		return
	}
	s.log.Error().Err(err).Msg("handler error")
	c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
}

func pathID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func successResponse(data interface{}) gin.H {
	return gin.H{"data": data}
}

func errorResponse(message string) gin.H {
	return gin.H{"error": message}
}
