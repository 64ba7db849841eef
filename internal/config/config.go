// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/resume-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and cannot be shadowed by
// the UI prefix or the metrics path.
var reservedRoutes = []string{"/health", "/api", "/static"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	EnvFile        string   `kong:"help='Path to a .env file loaded before startup.',env='ENV_FILE',default='.env'"`
	Host           string   `kong:"help='Public listen host (overrides config).',env='HOST'"`
	Port           int      `kong:"short='p',help='Public listen port (overrides config).',env='PORT'"`
	BackendPort    int      `kong:"help='Internal backend port (overrides config).',env='GRADIO_SERVER_PORT'"`
	AllowedOrigins []string `kong:"help='Comma-separated CORS origins (overrides config).',env='ALLOWED_ORIGINS',sep=','"`
	DatabaseURL    string   `kong:"name='database-url',help='Database connection string handed to the backend.',env='DATABASE_URL'"`
	Premium        bool     `kong:"help='Launch the premium backend variant.',env='PREMIUM_MODE'"`
	OpenAIAPIKey   string   `kong:"name='openai-api-key',help='AI provider key (presence is reported in status).',env='OPENAI_API_KEY'"`
	Environment    string   `kong:"help='Runtime environment: development|production (overrides config).',env='GATEWAY_ENV'"`
	LogLevel       string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level gateway configuration. It is immutable once Load returns.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Backend  BackendConfig  `toml:"backend"`
	Features FeaturesConfig `toml:"features"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds public HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (3000)
	AllowedOrigins []string        `toml:"allowed_origins"`
	StaticRoot     string          `toml:"static_root"`
	BodyMaxBytes   int64           `toml:"body_max_bytes"` // 0 disables the limit
	Environment    string          `toml:"environment"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig describes the supervised UI process and how to reach it.
type BackendConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Interpreter string `toml:"interpreter"`
	AppRoot     string `toml:"app_root"`

	EntryDefault  string `toml:"entry_default"`
	EntryPremium  string `toml:"entry_premium"`
	EntryDatabase string `toml:"entry_database"`

	UIPrefix    string `toml:"ui_prefix"`
	StripPrefix bool   `toml:"strip_prefix"`

	RestartDelayMS               int `toml:"restart_delay_ms"`
	ConnectTimeoutSeconds        int `toml:"connect_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `toml:"response_header_timeout_seconds"`
	IdleConnections              int `toml:"idle_connections"`
}

// FeaturesConfig holds the external dependency settings the gateway only
// checks for presence.
type FeaturesConfig struct {
	DatabaseURL  string `toml:"database_url"`
	Premium      bool   `toml:"premium"`
	OpenAIAPIKey string `toml:"openai_api_key"`
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

// LoadDotenv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error. The backend child inherits whatever this adds.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/resume-gateway/config.toml then configs/config.toml. Unlike an explicit
// path, a missing search-path file is fine: defaults and flags cover everything.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if cfg.Server.Port == cfg.Backend.Port {
		return nil, fmt.Errorf("config: validate: server.port and backend.port must differ; both are %d", cfg.Server.Port)
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
	if cli.BackendPort != 0 {
		c.Backend.Port = cli.BackendPort
	}
	if len(cli.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = cli.AllowedOrigins
	}
	if cli.DatabaseURL != "" {
		c.Features.DatabaseURL = cli.DatabaseURL
	}
	if cli.Premium {
		c.Features.Premium = true
	}
	if cli.OpenAIAPIKey != "" {
		c.Features.OpenAIAPIKey = cli.OpenAIAPIKey
	}
	if cli.Environment != "" {
		c.Server.Environment = cli.Environment
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Backend.Port < 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port must be 0–65535; got %d", c.Backend.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.RestartDelayMS < 0 {
		return fmt.Errorf("backend.restart_delay_ms must be non-negative; got %d", c.Backend.RestartDelayMS)
	}
	if c.Backend.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("backend.connect_timeout_seconds must be non-negative; got %d", c.Backend.ConnectTimeoutSeconds)
	}
	if c.Backend.ResponseHeaderTimeoutSeconds < 0 {
		return fmt.Errorf("backend.response_header_timeout_seconds must be non-negative; got %d", c.Backend.ResponseHeaderTimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Server.Environment) {
	case "development", "production", "":
		// valid
	default:
		return fmt.Errorf("server.environment must be one of: development, production; got %q", c.Server.Environment)
	}

	if p := c.Backend.UIPrefix; p != "" {
		if p[0] != '/' || p == "/" || strings.HasSuffix(p, "/") {
			return fmt.Errorf("backend.ui_prefix must start with '/', be non-root and have no trailing slash; got %q", p)
		}
		if r, ok := conflictsWithReserved(p); ok {
			return fmt.Errorf("backend.ui_prefix %q conflicts with reserved route %q", p, r)
		}
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
		if r, ok := conflictsWithReserved(p); ok {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
		}
		if prefix := c.Backend.UIPrefix; prefix != "" && (p == prefix || strings.HasPrefix(p, prefix+"/")) {
			return fmt.Errorf("metrics.path %q is shadowed by backend.ui_prefix %q", p, prefix)
		}
	}

	return nil
}

func conflictsWithReserved(p string) (string, bool) {
	for _, reserved := range reservedRoutes {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return reserved, true
		}
	}
	return "", false
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.StaticRoot == "" {
		c.Server.StaticRoot = "static"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "production"
	}
	c.Server.Environment = strings.ToLower(c.Server.Environment)

	if c.Backend.Host == "" {
		c.Backend.Host = "127.0.0.1"
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = 7860
	}
	if c.Backend.Interpreter == "" {
		c.Backend.Interpreter = "python3"
	}
	if c.Backend.AppRoot == "" {
		c.Backend.AppRoot = "."
	}
	if c.Backend.EntryDefault == "" {
		c.Backend.EntryDefault = "main.py"
	}
	if c.Backend.EntryPremium == "" {
		c.Backend.EntryPremium = "premium_app.py"
	}
	if c.Backend.EntryDatabase == "" {
		c.Backend.EntryDatabase = "app_with_database.py"
	}
	if c.Backend.UIPrefix == "" {
		c.Backend.UIPrefix = "/gradio"
	}
	if c.Backend.RestartDelayMS == 0 {
		c.Backend.RestartDelayMS = 5000
	}
	if c.Backend.ConnectTimeoutSeconds == 0 {
		c.Backend.ConnectTimeoutSeconds = 10
	}
	if c.Backend.ResponseHeaderTimeoutSeconds == 0 {
		c.Backend.ResponseHeaderTimeoutSeconds = 300
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
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

// Development reports whether detailed errors may be shown to callers.
func (c *ServerConfig) Development() bool {
	return c.Environment == "development"
}

// Addr returns the backend's internal address as host:port.
func (c *BackendConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RestartDelay is the fixed wait between a crash and the respawn.
func (c *BackendConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMS) * time.Millisecond
}

// DatabaseConfigured reports whether a persistence connection string is present.
func (f *FeaturesConfig) DatabaseConfigured() bool {
	return strings.TrimSpace(f.DatabaseURL) != ""
}

// AIConfigured reports whether an AI provider key is present.
func (f *FeaturesConfig) AIConfigured() bool {
	return strings.TrimSpace(f.OpenAIAPIKey) != ""
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry the database connection string.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
