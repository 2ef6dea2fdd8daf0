// ABOUTME: Configuration loading and parsing for coven-botkit
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied by Load before validation
const (
	DefaultWebhookPath    = "/api/messages"
	DefaultTokenURL       = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultTokenScope     = "https://api.botframework.com/.default"
	DefaultRequestTimeout = 30 * time.Second
	DefaultDedupeTTL      = 5 * time.Minute
	DefaultDedupeSize     = 10_000
	DefaultMatrixMsgType  = "m.text"
)

// Config represents the complete coven-botkit configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	BotFramework BotFrameworkConfig `yaml:"botframework" toml:"botframework"`
	Matrix       MatrixConfig       `yaml:"matrix" toml:"matrix"`
	Dedupe       DedupeConfig       `yaml:"dedupe" toml:"dedupe"`
	Middleware   MiddlewareConfig   `yaml:"middleware" toml:"middleware"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the webhook listener configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	WebhookPath string `yaml:"webhook_path" toml:"webhook_path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	// Funnel exposes the webhook publicly over HTTPS on :443
	Funnel bool `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BotFrameworkConfig holds Bot Framework channel credentials
type BotFrameworkConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	AppID       string `yaml:"app_id" toml:"app_id"`
	AppPassword string `yaml:"app_password" toml:"app_password"`
	TenantID    string `yaml:"tenant_id" toml:"tenant_id"`
	TokenURL    string `yaml:"token_url" toml:"token_url"`
	Scope       string `yaml:"scope" toml:"scope"`

	// JWTSecret enables HS256 bearer verification on the webhook when set
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	MsgType      string   `yaml:"msgtype" toml:"msgtype"` // m.text or m.notice
}

// DedupeConfig controls suppression of redelivered inbound activities
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// MiddlewareConfig toggles the built-in send middleware stages
type MiddlewareConfig struct {
	Markdown   bool `yaml:"markdown" toml:"markdown"`
	Transcript bool `yaml:"transcript" toml:"transcript"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config file location.
// Priority: COVEN_BOTKIT_CONFIG env var > XDG_CONFIG_HOME/coven/botkit.yaml > ~/.config/coven/botkit.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_BOTKIT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "botkit.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "botkit.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration content. It applies environment expansion,
// defaults, duration parsing and validation exactly as Load does.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = DefaultWebhookPath
	}
	if c.BotFramework.TokenURL == "" {
		c.BotFramework.TokenURL = DefaultTokenURL
		if c.BotFramework.TenantID != "" {
			// Single-tenant apps get their token from their own tenant
			c.BotFramework.TokenURL = "https://login.microsoftonline.com/" + url.PathEscape(c.BotFramework.TenantID) + "/oauth2/v2.0/token"
		}
	}
	if c.BotFramework.Scope == "" {
		c.BotFramework.Scope = DefaultTokenScope
	}
	if c.BotFramework.RequestTimeout == 0 {
		c.BotFramework.RequestTimeout = DefaultRequestTimeout
	}
	if c.Matrix.MsgType == "" {
		c.Matrix.MsgType = DefaultMatrixMsgType
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The listen address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with /")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !c.BotFramework.Enabled && !c.Matrix.Enabled {
		return fmt.Errorf("at least one of botframework or matrix must be enabled")
	}

	if c.BotFramework.Enabled {
		// An empty app id is the local emulator setup and needs no password
		if c.BotFramework.AppID != "" && c.BotFramework.AppPassword == "" {
			return fmt.Errorf("botframework.app_password is required when app_id is set")
		}
		if _, err := url.ParseRequestURI(c.BotFramework.TokenURL); err != nil {
			return fmt.Errorf("botframework.token_url is not a valid URL: %w", err)
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		u, err := url.Parse(c.Matrix.Homeserver)
		if err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("matrix.homeserver must use http or https scheme")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
		if c.Matrix.MsgType != "m.text" && c.Matrix.MsgType != "m.notice" {
			return fmt.Errorf("matrix.msgtype must be m.text or m.notice, got %q", c.Matrix.MsgType)
		}
	}

	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must not be negative")
	}
	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.BotFramework.RequestTimeoutRaw != "" {
		cfg.BotFramework.RequestTimeout, err = time.ParseDuration(cfg.BotFramework.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.BotFramework.RequestTimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}

// Example is the starter configuration written by `coven-botkit init`.
const Example = `# coven-botkit configuration

server:
  http_addr: "127.0.0.1:3978"
  webhook_path: "/api/messages"

tailscale:
  enabled: false
  hostname: "coven-botkit"
  auth_key: "${TS_AUTHKEY}"
  funnel: false

database:
  path: "./botkit.db"

botframework:
  enabled: true
  app_id: "${MICROSOFT_APP_ID}"
  app_password: "${MICROSOFT_APP_PASSWORD}"
  tenant_id: ""
  request_timeout: "30s"

matrix:
  enabled: false
  homeserver: "https://matrix.org"
  user_id: "@botkit:matrix.org"
  access_token: "${MATRIX_ACCESS_TOKEN}"
  allowed_rooms: []
  msgtype: "m.text"

dedupe:
  ttl: "5m"
  max_size: 10000

middleware:
  markdown: true
  transcript: true

logging:
  level: "info"
  format: "text"
`
