package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/metrics"
)

func newTestEcho(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	e := NewEcho(cfg, logger, m)
	RegisterRoutes(e, cfg, NewHealthHandler(cfg, "test", nil), m)
	return e
}

func TestNewEcho_RateLimit(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.Config
		wantLimited int
	}{
		{
			name: "admin limit enabled",
			cfg: config.Config{Admin: config.AdminConfig{RateLimit: config.AdminRateLimitConfig{
				Enabled: true, RequestsPerSecond: 0.001, Burst: 3,
			}}},
			wantLimited: 3,
		},
		{
			name:        "admin limit disabled",
			cfg:         config.Config{Admin: config.AdminConfig{}},
			wantLimited: 0,
		},
		{
			// The origin accept throttle does not apply to the admin listener.
			name: "only origin limit enabled",
			cfg: config.Config{Server: config.ServerConfig{RateLimit: config.RateLimitConfig{
				Enabled: true, ConnectionsPerSecond: 0.001, Burst: 1,
			}}},
			wantLimited: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestEcho(t, &tt.cfg)

			var limited int
			for range 6 {
				req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				switch rec.Code {
				case http.StatusOK:
				case http.StatusTooManyRequests:
					limited++
				default:
					t.Fatalf("status = %d, want 200 or 429", rec.Code)
				}
			}
			if limited != tt.wantLimited {
				t.Errorf("limited = %d, want %d", limited, tt.wantLimited)
			}
		})
	}
}

func TestNewEcho_Middleware(t *testing.T) {
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"}}
	h := newTestEcho(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/status", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id should be set by the RequestID middleware")
	}
}
