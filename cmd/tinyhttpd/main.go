package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"tinyhttpd-go/internal/admin"
	"tinyhttpd-go/internal/cgi"
	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/metrics"
	"tinyhttpd-go/internal/server"
	"tinyhttpd-go/internal/static"
	"tinyhttpd-go/internal/wire"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("tinyhttpd"),
		kong.Description("Minimal HTTP/1.0 server for static files and CGI programs."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	wire.ServerSoftware = "tinyhttpd/" + version

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() admin.Version { return admin.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			static.NewFileServer,
			cgi.NewExecutor,
			server.New,
			func(s *server.Server) admin.ListenAddr { return s.Addr },
			admin.NewHealthHandler,
			admin.NewEcho,
		),
		fx.Invoke(admin.RegisterRoutes, warnConfigPermissions, startServer, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, s *server.Server, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr, err := s.Listen()
			if err != nil {
				return err
			}
			logger.Info("starting server",
				"addr", addr.String(),
				"document_root", cfg.Server.DocumentRoot,
			)
			if cfg.Server.RateLimit.Enabled {
				logger.Info("accept rate limiter enabled",
					"cps", cfg.Server.RateLimit.ConnectionsPerSecond,
					"burst", cfg.Server.RateLimit.Burst,
				)
			}
			go func() {
				if err := s.Serve(); err != nil {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return s.Shutdown(ctx)
		},
	})
}

func startAdmin(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind admin %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", ln.Addr().String())
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return e.Shutdown(ctx)
		},
	})
}
