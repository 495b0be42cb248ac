// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/pdf-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and cannot host metrics.
var reservedRoutes = []string{"/merge", "/convert-html", "/split", "/healthz", "/gateway/status"}

// DefaultPort is used when neither the config file nor the CLI sets a port.
const DefaultPort = 4000

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"help='Document engine base URL (overrides config).',env='GOTENBERG_URL'"`
	TempDir     string `kong:"help='Directory for staged uploads (overrides config).',env='UPLOAD_DIR'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Upload   UploadConfig   `toml:"upload"`
	Convert  ConvertConfig  `toml:"convert"`
	Split    SplitConfig    `toml:"split"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (4000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	StaticDir    string `toml:"static_dir"`
}

// UpstreamConfig holds document engine connection settings.
type UpstreamConfig struct {
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"` // 0 disables the client timeout
	IdleConnections   int    `toml:"idle_connections"`
	ErrorBodyMaxBytes int64  `toml:"error_body_max_bytes"`
	Username          string `toml:"username"`
	Password          string `toml:"password"`
	AllowInsecure     bool   `toml:"allow_insecure"`
}

// UploadConfig controls staging of inbound files.
type UploadConfig struct {
	TempDir  string `toml:"temp_dir"`
	MaxFiles int    `toml:"max_files"`
}

// ConvertConfig holds the default page size for HTML conversion, in inches.
type ConvertConfig struct {
	PaperWidth  float64 `toml:"paper_width"`
	PaperHeight float64 `toml:"paper_height"`
}

// SplitConfig holds the default split mode sent to the engine.
type SplitConfig struct {
	Mode string `toml:"mode"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/pdf-gateway/config.toml then configs/config.toml. Finding nothing is
// not an error; the gateway then runs on defaults and CLI/env values.
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

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.BaseURL = cli.UpstreamURL
	}
	if cli.TempDir != "" {
		c.Upload.TempDir = cli.TempDir
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: must be HTTPS unless explicitly relaxed.
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url must include a host; got %q", c.Upstream.BaseURL)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !c.Upstream.AllowInsecure {
			return fmt.Errorf("upstream.base_url must use HTTPS (set upstream.allow_insecure for a local engine); got %q", c.Upstream.BaseURL)
		}
	default:
		return fmt.Errorf("upstream.base_url has unsupported scheme %q", u.Scheme)
	}
	if (c.Upstream.Username == "") != (c.Upstream.Password == "") {
		return errors.New("upstream.username and upstream.password must be set together")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.ErrorBodyMaxBytes < 0 {
		return fmt.Errorf("upstream.error_body_max_bytes must be non-negative; got %d", c.Upstream.ErrorBodyMaxBytes)
	}
	if c.Upload.MaxFiles < 0 {
		return fmt.Errorf("upload.max_files must be non-negative; got %d", c.Upload.MaxFiles)
	}
	if c.Convert.PaperWidth < 0 || c.Convert.PaperHeight < 0 {
		return fmt.Errorf("convert paper size must be positive; got %vx%v", c.Convert.PaperWidth, c.Convert.PaperHeight)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// As with any TOML integer, an explicit 0 is indistinguishable from an omitted
// key, so port=0 results in DefaultPort.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 * 1024 // 64 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://127.0.0.1:3000"
		c.Upstream.AllowInsecure = true
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ErrorBodyMaxBytes == 0 {
		c.Upstream.ErrorBodyMaxBytes = 4096
	}
	if c.Upload.TempDir == "" {
		c.Upload.TempDir = filepath.Join(os.TempDir(), "pdf-gateway")
	}
	if c.Upload.MaxFiles == 0 {
		c.Upload.MaxFiles = 32
	}
	if c.Convert.PaperWidth == 0 {
		c.Convert.PaperWidth = 8.5
	}
	if c.Convert.PaperHeight == 0 {
		c.Convert.PaperHeight = 11
	}
	if c.Split.Mode == "" {
		c.Split.Mode = "pages"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
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
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may carry upstream credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && c.Upstream.Password != "" {
		logger.Warn("config file holds upstream credentials and is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
