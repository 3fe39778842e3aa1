package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests that hit no registered route, so arbitrary
// paths cannot grow the http series.
const unmatchedRoute = "unmatched"

// RequestObserver logs each request and records its metrics in one pass.
func RequestObserver(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		route := routeLabel(c)
		status := c.Writer.Status()
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		logger.WithLevel(levelForStatus(status)).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Int("bytes", c.Writer.Size()).
			Msgf("status.http %s %s", c.Request.Method, c.Request.URL.Path)
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

func levelForStatus(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.DebugLevel
	}
}
