package middleware

import (
	"strconv"
	"time"

	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/labstack/echo/v4"
)

// Metrics records request counts and latencies per route
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			monitoring.HttpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			monitoring.ResponseTimeHistogram.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
