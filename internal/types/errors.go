package types

// ErrorBody is the error object of the /api/v1 endpoints.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// LegacyErrorResponse is the flat error shape of the web panel endpoints
// (/api/matrix, /api/connect).
type LegacyErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// Legacy flattens an ErrorResponse, replacing the message when one is given.
func (r ErrorResponse) Legacy(message string) LegacyErrorResponse {
	if message == "" {
		message = r.Error.Message
	}
	return LegacyErrorResponse{Error: message, Code: r.Error.Code}
}
