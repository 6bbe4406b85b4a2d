// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tinyhttpd/config.toml",
	"configs/config.toml",
}

// DefaultPort is used when neither the config file nor the CLI sets a port.
const DefaultPort = 8000

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',default='-1',help='Listen port, 0 for an ephemeral port (overrides config).',env='PORT'"`
	Root     string `kong:"short='r',help='Document root directory (overrides config).',env='DOCUMENT_ROOT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Static  StaticConfig  `toml:"static"`
	CGI     CGIConfig     `toml:"cgi"`
	Log     LogConfig     `toml:"log"`
	Admin   AdminConfig   `toml:"admin"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds listener and connection settings.
type ServerConfig struct {
	Host string `toml:"host"`
	// Port is a pointer so an explicit 0 (ephemeral) differs from unset.
	Port               *int            `toml:"port"`
	DocumentRoot       string          `toml:"document_root"`
	ChunkSize          int             `toml:"chunk_size"`
	MaxLineBytes       int             `toml:"max_line_bytes"`
	ReadTimeoutSeconds int             `toml:"read_timeout_seconds"`
	RateLimit          RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig throttles the accept loop.
type RateLimitConfig struct {
	Enabled              bool    `toml:"enabled"`
	ConnectionsPerSecond float64 `toml:"connections_per_second"`
	Burst                int     `toml:"burst"`
}

// StaticConfig holds static file settings.
type StaticConfig struct {
	DetectContentType bool `toml:"detect_content_type"`
}

// CGIConfig holds CGI execution settings.
type CGIConfig struct {
	TimeoutSeconds      int      `toml:"timeout_seconds"` // 0 disables the timeout
	ResponseBufferBytes *int     `toml:"response_buffer_bytes"`
	InheritEnv          []string `toml:"inherit_env"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the admin HTTP listener settings.
type AdminConfig struct {
	Enabled   bool                 `toml:"enabled"`
	Host      string               `toml:"host"`
	Port      int                  `toml:"port"`
	RateLimit AdminRateLimitConfig `toml:"rate_limit"`
}

// AdminRateLimitConfig throttles admin requests per client IP. It is
// independent of the origin server's accept throttle.
type AdminRateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tinyhttpd/config.toml then configs/config.toml, and falls back to
// built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	root, err := filepath.Abs(cfg.Server.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("config: document root: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("config: document root: %w", err)
	}
	cfg.Server.DocumentRoot = root
	return &cfg, nil
}

// applyCLI overrides config values with CLI flags that were set.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port >= 0 {
		port := cli.Port
		c.Server.Port = &port
	}
	if cli.Root != "" {
		c.Server.DocumentRoot = cli.Root
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if p := *c.Server.Port; p < 0 || p > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", p)
	}
	if c.Server.ChunkSize <= 0 {
		return fmt.Errorf("server.chunk_size must be > 0; got %d", c.Server.ChunkSize)
	}
	if c.Server.MaxLineBytes < 64 {
		return fmt.Errorf("server.max_line_bytes must be at least 64; got %d", c.Server.MaxLineBytes)
	}
	if c.Server.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("server.read_timeout_seconds must be non-negative; got %d", c.Server.ReadTimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.ConnectionsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.connections_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.ConnectionsPerSecond)
	}
	if c.CGI.TimeoutSeconds < 0 {
		return fmt.Errorf("cgi.timeout_seconds must be non-negative; got %d", c.CGI.TimeoutSeconds)
	}
	if *c.CGI.ResponseBufferBytes < 0 {
		return fmt.Errorf("cgi.response_buffer_bytes must be non-negative; got %d", *c.CGI.ResponseBufferBytes)
	}

	// Document root must be an existing directory.
	info, err := os.Stat(c.Server.DocumentRoot)
	if err != nil {
		return fmt.Errorf("server.document_root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server.document_root %q is not a directory", c.Server.DocumentRoot)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Admin.Enabled {
		if c.Admin.Port < 0 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
		}
		if rl := c.Admin.RateLimit; rl.Enabled && rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", rl.RequestsPerSecond)
		}
		if c.Metrics.Enabled && c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", c.Metrics.Path)
		}
		for _, reserved := range []string{"/healthz", "/status"} {
			if c.Metrics.Path == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", c.Metrics.Path, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Server.Port and CGI.ResponseBufferBytes are pointers because 0 is a
// meaningful explicit value for both.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == nil {
		port := DefaultPort
		c.Server.Port = &port
	}
	if c.Server.DocumentRoot == "" {
		c.Server.DocumentRoot = "htdocs"
	}
	if c.Server.ChunkSize == 0 {
		c.Server.ChunkSize = 1024
	}
	if c.Server.MaxLineBytes == 0 {
		c.Server.MaxLineBytes = 8192
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = 1
	}
	if c.CGI.ResponseBufferBytes == nil {
		n := 64 * 1024
		c.CGI.ResponseBufferBytes = &n
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9100
	}
	if c.Admin.RateLimit.Burst <= 0 {
		c.Admin.RateLimit.Burst = 1
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	port := DefaultPort
	if c.Port != nil {
		port = *c.Port
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResponseBuffer returns the CGI response buffer bound in bytes.
func (c *CGIConfig) ResponseBuffer() int {
	if c.ResponseBufferBytes == nil {
		return 0
	}
	return *c.ResponseBufferBytes
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
