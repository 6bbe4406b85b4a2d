package middleware

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"tinyhttpd-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that counts admin requests by
// normalized path and status code. metricsPath is the configured scrape route.
func MetricsMiddleware(m *metrics.Metrics, metricsPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			// When a handler returns an *echo.HTTPError, the response status
			// hasn't been written yet; Echo's central error handler will do
			// that later.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			path := metrics.NormalizeAdminPath(c.Request().URL.Path, metricsPath)
			m.AdminRequests.WithLabelValues(path, strconv.Itoa(statusCode)).Inc()

			return err
		}
	}
}
