package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
	"github.com/J3rah/talkai-monorepo-sub002/internal/bridge"
	"github.com/J3rah/talkai-monorepo-sub002/internal/session"
	"github.com/J3rah/talkai-monorepo-sub002/internal/store"
	"github.com/J3rah/talkai-monorepo-sub002/internal/wizard"
)

// ErrorResponse is the body of every non-2xx answer produced by a handler.
// Flow is set when the failure left the flow in a state the client must
// render, such as a failed connection attempt.
type ErrorResponse struct {
	Error string            `json:"error"`
	Flow  *session.Snapshot `json:"flow,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrNoPreferences),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTrialRequired):
		return http.StatusUnauthorized
	case errors.Is(err, analytics.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnknownVoice),
		errors.Is(err, session.ErrManagedEvent),
		errors.Is(err, wizard.ErrEmptyName),
		errors.Is(err, wizard.ErrNameTooLong),
		errors.Is(err, wizard.ErrMissingVoice),
		errors.Is(err, bridge.ErrMissingConfigID),
		errors.Is(err, analytics.ErrNoFeedback):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, wizard.ErrInvalidEvent),
		errors.Is(err, wizard.ErrConnecting),
		errors.Is(err, wizard.ErrTerminal),
		errors.Is(err, wizard.ErrNoPredecessor),
		errors.Is(err, bridge.ErrInFlight),
		errors.Is(err, bridge.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// httpError converts err for echo's error handler. Internal errors keep
// their message out of the response.
func httpError(err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

// connectError answers a failed connect with the flow attached. Dial
// failures that are not a known domain error are upstream failures.
func connectError(c echo.Context, snap session.Snapshot, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		code = http.StatusBadGateway
	}
	resp := ErrorResponse{Error: err.Error()}
	if snap.ID != "" {
		resp.Flow = &snap
	}
	return c.JSON(code, resp)
}
