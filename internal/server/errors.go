package server

import (
	"context"
	"net/http"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/cwbudde/algo-karaoke/internal/stems"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, detailResponse{Detail: msg})
}

// statusOf maps the separation error classes onto HTTP.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, stems.ErrNoFile),
		errors.Is(err, stems.ErrUnsupportedFormat),
		errors.Is(err, stems.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, stems.ErrTimeout):
		return http.StatusGatewayTimeout, "Processing timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Stem separation failed: " + err.Error()
	}
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := http.StatusInternalServerError, ""

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	} else {
		status, msg = statusOf(err)
	}

	logger := log.WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	} else {
		logger.WithError(err).Info("Request rejected")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = detail(c, status, msg)
	}

	if werr != nil {
		logger.WithError(werr).Warn("Failed to write error response")
	}
}
