package observe

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EchoMiddleware records [Metrics.HTTPRequestDuration] for every request.
// The route template is used as the path label so that path parameters do
// not explode cardinality; unmatched requests are labelled "unmatched".
func EchoMiddleware(m *Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			req := c.Request()
			m.HTTPRequestDuration.Record(req.Context(), time.Since(start).Seconds(),
				metric.WithAttributes(
					attribute.String("method", req.Method),
					attribute.String("path", route),
					attribute.String("status", strconv.Itoa(c.Response().Status)),
				),
			)

			return nil
		}
	}
}
