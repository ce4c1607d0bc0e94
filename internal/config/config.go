// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables with NOTECHAT_ prefix (runtime override)
//  2. Config file (~/.notechat/config.yaml)
//  3. Default values
//
// The generation key pool is deliberately NOT cached on the Config struct:
// GenerationKeys() re-reads the underlying source on every call so that key
// edits take effect without a restart. An empty pool is a hard error
// surfaced on first use.
//
// Security: sensitive values (API keys, database password) are masked in
// MarshalJSON and must never be logged raw.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors checked with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoAPIKeys indicates the generation key pool is empty.
	ErrNoAPIKeys = errors.New("no generation API keys configured")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxRetries indicates the retry budget is out of range.
	ErrInvalidMaxRetries = errors.New("invalid max retries")

	// ErrInvalidHost indicates an external service host is not a valid URL.
	ErrInvalidHost = errors.New("invalid host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
)

// Defaults for external services. The hosts mirror the endpoints the
// portal's front end talks to directly.
const (
	DefaultStorageHost = "https://www.googleapis.com/drive/v3"
	DefaultPublicHost  = "https://drive.google.com"
	DefaultAIHost      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel       = "gemini-1.5-flash"
	DefaultMaxRetries  = 3
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// External service hosts
	StorageHost string `mapstructure:"storage_host" json:"storage_host"`
	PublicHost  string `mapstructure:"public_host" json:"public_host"`
	AIHost      string `mapstructure:"ai_host" json:"ai_host"`

	// Generation settings
	ModelName  string `mapstructure:"model_name" json:"model_name"`
	MaxRetries int    `mapstructure:"max_retries" json:"max_retries"`

	// Token vault storage directory (session-scoped credential cache)
	TokenDir string `mapstructure:"token_dir" json:"token_dir"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// v is retained so GenerationKeys() can re-read the key list on
	// every call instead of caching it at load time.
	v *viper.Viper
}

// Load reads configuration from all sources and validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("storage_host", DefaultStorageHost)
	v.SetDefault("public_host", DefaultPublicHost)
	v.SetDefault("ai_host", DefaultAIHost)
	v.SetDefault("model_name", DefaultModel)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("token_dir", defaultTokenDir())
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "notechat")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "notechat")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("gemini_api_keys", "")

	v.SetEnvPrefix("NOTECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".notechat"))
	}
	v.AddConfigPath(".")

	// A missing config file is fine; defaults plus env cover it.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromViper builds a Config from a pre-populated viper instance.
// Intended for tests that need control over every source.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.v = v
	return cfg, nil
}

// GenerationKeys parses the generation-service key pool.
//
// The pool is re-parsed from the live configuration source on every call,
// so edits to the key list are picked up without a restart. Returns
// ErrNoAPIKeys when the parsed pool is empty.
func (c *Config) GenerationKeys() ([]string, error) {
	if c == nil || c.v == nil {
		return nil, ErrConfigNil
	}

	raw := c.v.GetString("gemini_api_keys")
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: set NOTECHAT_GEMINI_API_KEYS", ErrNoAPIKeys)
	}
	return keys, nil
}

// PostgresConnectionString returns the PostgreSQL DSN for pgx.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// MigrateURL returns the database URL for golang-migrate's pgx/v5 driver.
func (c *Config) MigrateURL() string {
	u := &url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// MarshalJSON masks sensitive fields. When adding new secrets
// (passwords, API keys, tokens), update this method.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	return json.Marshal(masked)
}

// quoteDSNValue quotes a value for PostgreSQL key=value DSN format so
// passwords with spaces or quotes survive parsing.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// defaultTokenDir returns the session-scoped directory for the token
// vault. The temp dir is cleared on reboot, which matches the "survives
// reload, not a fresh session" requirement for cached credentials.
func defaultTokenDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("notechat-%d", os.Getuid()))
}
