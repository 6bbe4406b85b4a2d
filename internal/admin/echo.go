package admin

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/metrics"
	"tinyhttpd-go/internal/middleware"
)

// NewEcho builds the admin Echo instance with its middleware stack. Routes
// are added separately by RegisterRoutes.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	logger = logger.With("component", "admin")
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger, "/healthz", cfg.Metrics.Path))
	e.Use(middleware.SecurityHeaders())
	if cfg.Metrics.Enabled && m != nil {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}

	if rl := cfg.Admin.RateLimit; rl.Enabled {
		store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(rl.RequestsPerSecond),
			Burst: rl.Burst,
		})
		e.Use(echomw.RateLimiter(store))
		logger.Info("admin rate limiter enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	return e
}
