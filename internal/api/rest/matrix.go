package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/gin-gonic/gin"
)

// GET /api/matrix/:name
//
// Returns {"<target>": {"target": {index, label}, "sources": [{index, label}]}}.
func (s *Server) getLegacyMatrix(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	state, err := s.lm.DeviceService().GetMatrix(ctx, c.Param("name"))
	if err != nil {
		s.respondLegacyError(c, err)
		return
	}

	c.JSON(http.StatusOK, LegacyMatrix(state))
}

// POST /api/connect
func (s *Server) legacyConnect(c *gin.Context) {
	var req types.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		body := types.NewErrorResponse("VALIDATION_ERROR", "invalid request body", nil)
		c.JSON(http.StatusBadRequest, body.Legacy(""))
		return
	}

	result, err := s.connect(c, req.VPro, req.Source, req.Target)
	if err != nil {
		s.respondLegacyError(c, err)
		return
	}

	response := gin.H{
		"success": result.Acknowledged(),
		"status":  result.Status,
	}
	if result.Pending {
		response["pending"] = true
	}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) respondLegacyError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)

	message := ""
	if errors.Is(err, devices.ErrDeviceNotFound) {
		message = "VPRO not found"
	}
	c.JSON(status, body.Legacy(message))
}

// LegacyMatrix converts a matrix state into the web panel format, keyed by
// target index.
func LegacyMatrix(state *vpro.MatrixState) map[string]types.RouteEntry {
	out := make(map[string]types.RouteEntry, len(state.Connections))
	for _, conn := range state.Connections {
		entry := types.RouteEntry{
			Target:  types.PortRef{Index: conn.Target, Label: state.TargetLabel(conn.Target)},
			Sources: make([]types.PortRef, 0, len(conn.Sources)),
		}
		for _, src := range conn.Sources {
			entry.Sources = append(entry.Sources, types.PortRef{Index: src, Label: state.SourceLabel(src)})
		}
		out[strconv.Itoa(conn.Target)] = entry
	}
	return out
}
