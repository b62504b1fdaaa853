package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
)

// statusClientClosed is the nginx convention for a client that gave up
// before the response was ready.
const statusClientClosed = 499

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusOf maps the service error taxonomy to HTTP statuses.
func statusOf(code core.Code) int {
	switch code {
	case core.CodeInvalidInput:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeRateLimited:
		return http.StatusTooManyRequests
	case core.CodeCancelled:
		return statusClientClosed
	case core.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case core.CodeDependencyUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates a service error into the JSON error response.
// Only the code and the safe reason leave the process; causes stay in
// the logs.
func writeError(c echo.Context, err error) error {
	code := core.CodeOf(err)
	msg := "internal error"
	var se *core.Error
	if errors.As(err, &se) {
		msg = se.Reason
	}
	return c.JSON(statusOf(code), errorBody{Code: string(code), Message: msg})
}
