package rest

import (
	"net/http"

	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/devices, GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	devices := s.lm.DeviceService().Manager().ListDevices()

	response := make([]types.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		response = append(response, device.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": response,
		"count":   len(response),
	})
}

// GET /api/v1/devices/:name
func (s *Server) getDevice(c *gin.Context) {
	device, err := s.lm.DeviceService().Device(c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, device.Info())
}

// GET /api/v1/devices/:name/matrix
func (s *Server) getDeviceMatrix(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	state, err := s.lm.DeviceService().GetMatrix(ctx, c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device": c.Param("name"),
		"routes": state.Routes(),
		"state":  state,
	})
}

// POST /api/v1/devices/:name/connect
func (s *Server) connectDevice(c *gin.Context) {
	var req struct {
		Source any `json:"source"`
		Target any `json:"target"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VALIDATION_ERROR", "Invalid request body", err.Error()))
		return
	}

	name := c.Param("name")
	result, err := s.connect(c, name, req.Source, req.Target)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Acknowledged() {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// GET /api/v1/matrices
func (s *Server) listMatrices(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	snapshots := s.lm.DeviceService().QueryAll(ctx)

	response := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		entry := gin.H{"device": snap.Device.Name}
		if snap.Err != nil {
			_, body := errorBody(snap.Err)
			entry["error"] = body.Error
		} else {
			entry["routes"] = snap.State.Routes()
			entry["state"] = snap.State
		}
		response = append(response, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"matrices": response,
		"count":    len(response),
	})
}

// connect issues the command and announces the outcome. The device is
// looked up before the indices are parsed, so an unknown device reports not
// found whatever the body holds.
func (s *Server) connect(c *gin.Context, name string, rawSource, rawTarget any) (*vpro.ConnectionResult, error) {
	service := s.lm.DeviceService()
	device, err := service.Device(name)
	if err != nil {
		return nil, err
	}

	source, err := vpro.ParseIndex("source", rawSource)
	if err != nil {
		return nil, err
	}
	target, err := vpro.ParseIndex("target", rawTarget)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := service.ConnectDevice(ctx, device, source, target)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Connect command handled",
		zap.String("device", name),
		zap.Int("source", source),
		zap.Int("target", target),
		zap.String("status", string(result.Status)))

	if s.events != nil {
		s.events.ConnectionMade(name, result)
	}
	return result, nil
}
