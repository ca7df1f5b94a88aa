package gras

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/gras-server/pkg/oidf"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

// ValidationError is a malformed or missing request parameter. Client fault.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UnknownStateError is a completion request whose state matches no stored
// session. Client fault.
type UnknownStateError struct {
	State string
}

func (e *UnknownStateError) Error() string {
	return "content of parameter state is unknown"
}

// InvalidRedirectURIError is a malformed base URI handed to the location
// builder, naming the offending input.
type InvalidRedirectURIError struct {
	URI string
	Err error
}

func (e *InvalidRedirectURIError) Error() string {
	return fmt.Sprintf("invalid redirect uri '%s': %v", e.URI, e.Err)
}

func (e *InvalidRedirectURIError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the structured error body returned on every failed
// request.
type ErrorResponse struct {
	Timestamp    int64  `json:"gematik_timestamp"`
	ErrorUUID    string `json:"gematik_uuid"`
	ErrorMessage string `json:"error_message"`
}

// HTTPErrorHandler renders the error taxonomy as an ErrorResponse with the
// status carried by the error itself. Wire it into echo via
// e.HTTPErrorHandler.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusOf(err)
	body := ErrorResponse{
		Timestamp:    time.Now().Unix(),
		ErrorUUID:    ksuid.New().String(),
		ErrorMessage: err.Error(),
	}

	if httpErr := new(echo.HTTPError); errors.As(err, &httpErr) {
		body.ErrorMessage = fmt.Sprintf("%v", httpErr.Message)
	}

	slog.Error("request failed", "status", status, "uuid", body.ErrorUUID, "error", err, "path", c.Path())

	if err := c.JSON(status, body); err != nil {
		slog.Error("unable to write error response", "error", err)
	}
}

func statusOf(err error) int {
	var (
		validationErr   *ValidationError
		unknownStateErr *UnknownStateError
		upstreamErr     *oidf.UpstreamError
		trustErr        *oidf.TrustError
		missingClaimErr *oidf.MissingClaimError
		httpErr         *echo.HTTPError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &unknownStateErr):
		return http.StatusBadRequest
	case errors.As(err, &trustErr), errors.As(err, &upstreamErr), errors.As(err, &missingClaimErr):
		return http.StatusBadGateway
	case errors.As(err, &httpErr):
		return httpErr.Code
	default:
		return http.StatusInternalServerError
	}
}
