package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/vprocontrol/internal/devices"
	"github.com/KevinKickass/vprocontrol/internal/types"
	"github.com/KevinKickass/vprocontrol/internal/vpro"
	"github.com/gin-gonic/gin"
)

// StatusClientClosedRequest is reported when the caller went away.
const StatusClientClosedRequest = 499

// errorStatus maps an error to an HTTP status and an API error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		return http.StatusNotFound, "DEVICE_NOT_FOUND"
	case errors.Is(err, vpro.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, vpro.ErrProtocolTimeout):
		return http.StatusGatewayTimeout, "PROTOCOL_TIMEOUT"
	case errors.Is(err, vpro.ErrConnection):
		return http.StatusBadGateway, "CONNECTION_ERROR"
	case errors.Is(err, vpro.ErrProtocol):
		return http.StatusBadGateway, "PROTOCOL_ERROR"
	case errors.Is(err, vpro.ErrEncoding):
		return http.StatusBadGateway, "ENCODING_ERROR"
	case errors.Is(err, vpro.ErrIO):
		return http.StatusBadGateway, "IO_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "REQUEST_TIMEOUT"
	case errors.Is(err, vpro.ErrCancelled):
		return StatusClientClosedRequest, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func errorBody(err error) (int, types.ErrorResponse) {
	status, code := errorStatus(err)

	var details any
	var e *vpro.Error
	if errors.As(err, &e) {
		details = gin.H{
			"kind":   e.Kind.Error(),
			"phase":  e.Phase,
			"device": e.Device,
		}
	}
	return status, types.NewErrorResponse(code, err.Error(), details)
}

func (s *Server) respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.JSON(status, body)
}
