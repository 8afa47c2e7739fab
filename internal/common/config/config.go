package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration of the signaling server.
	Config struct {
		Server  Server        `yaml:"server"`
		Logger  LoggerConfig  `yaml:"logger"`
		Store   TokenStore    `yaml:"store"`
		Auth    Auth          `yaml:"auth"`
		Metrics MetricsConfig `yaml:"metrics"`
	}

	// Server holds the HTTP listener configuration.
	Server struct {
		BindAddr string `yaml:"bind_addr"` // host:port
	}

	// LoggerConfig configures the zap logger.
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// TokenStore selects and configures the websocket-token backend.
	TokenStore struct {
		Type  string          `yaml:"type"` // "memory" or "redis"
		Redis TokenStoreRedis `yaml:"redis"`
	}

	// TokenStoreRedis is the redis backend configuration.
	TokenStoreRedis struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	}

	// Auth configures the identity-provider handshake and the session
	// cookie minted after a successful callback.
	Auth struct {
		// Identity-provider endpoints.
		AuthURL      string `yaml:"auth_url"`
		TokenURL     string `yaml:"token_url"`
		UserInfoURL  string `yaml:"userinfo_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`

		// AppRedirectURL is where /auth/callback sends the browser after
		// binding the session.
		AppRedirectURL string `yaml:"app_redirect_url"`

		// CookieSecret signs the session cookie JWT.
		CookieSecret string        `yaml:"cookie_secret"`
		CookieTTL    time.Duration `yaml:"cookie_ttl"`
	}

	// MetricsConfig configures the prometheus surface.
	MetricsConfig struct {
		Enabled   bool   `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
	}
)

// Load reads the YAML configuration at path, resolving ${ENV:default}
// placeholders against the environment. A .env file alongside the process
// is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = ":8578"
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Auth.CookieTTL <= 0 {
		c.Auth.CookieTTL = 24 * time.Hour
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "vacs"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported store type %q", c.Store.Type)
	}
	if c.Auth.CookieSecret == "" {
		return fmt.Errorf("auth.cookie_secret is required")
	}
	return nil
}

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders in the YAML
// content with values from the environment.
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
