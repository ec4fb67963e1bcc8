package http

import (
	"encoding/json"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
)

// ErrorBody is the wire form of a gateway error. Messages are already
// redacted by the time they reach a response.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse maps an internal error to its wire form.
func NewErrorResponse(err *apperr.Error) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:       err.Code,
		Message:    apperr.Redact(err.Message),
		Details:    err.Details,
		RetryAfter: err.RetryAfterSeconds(),
	}}
}

type BatchResponse struct {
	Results []BatchResultResponse `json:"results"`
}

// BatchResultResponse is one slot of a batch outcome, in request order.
type BatchResultResponse struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}
