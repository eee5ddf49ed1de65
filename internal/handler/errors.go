package handler // handler holds the thin HTTP adapters over the services

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-admission/internal/apperror"
	"github.com/iliyamo/seat-admission/internal/logging"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// respondError writes err using its apperror kind.  Infrastructure and
// internal failures are logged with their cause; the cause never reaches
// the client.
func respondError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		ErrorHandler(he, c)
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = apperror.Unavailable(err)
	}
	ae := apperror.As(err)
	switch ae.Kind {
	case apperror.KindInfrastructure, apperror.KindInternal:
		logging.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Str("code", ae.Code).
			Msg("request failed")
	}
	return c.JSON(ae.StatusCode(), errorBody{Error: ae.Code, Message: ae.Message, Retryable: ae.Retryable()})
}

// ErrorHandler renders errors escaping the handlers, including Echo's own
// routing and binding errors, in the same body shape.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = respondError(c, err)
		return
	}
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok {
		msg = s
	}
	body := errorBody{Error: apperror.CodeInternal, Message: msg}
	switch he.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		body.Error = apperror.CodeNotFound
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		body.Error = apperror.CodeValidation
	case http.StatusUnauthorized:
		body.Error = "UNAUTHORIZED"
	case http.StatusForbidden:
		ae := apperror.Forbidden(msg)
		body.Error, body.Message = ae.Code, ae.Message
	}
	_ = c.JSON(he.Code, body)
}
