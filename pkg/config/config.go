package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFile    string `mapstructure:"LOG_FILE"`

	StoreDriver string `mapstructure:"STORE_DRIVER"` // sqlite or postgres
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	PostgresURL string `mapstructure:"POSTGRES_URL"`

	RedisAddr           string `mapstructure:"REDIS_ADDR"` // empty disables the page cache
	RedisPassword       string `mapstructure:"REDIS_PASSWORD"`
	RedisDB             int    `mapstructure:"REDIS_DB"`
	PageCacheTTLSeconds int    `mapstructure:"PAGE_CACHE_TTL_SECONDS"`

	FetchMode           string   `mapstructure:"FETCH_MODE"` // http or browser
	FetchTimeoutSeconds int      `mapstructure:"FETCH_TIMEOUT_SECONDS"`
	MaxBodyBytes        int64    `mapstructure:"MAX_BODY_BYTES"`
	MaxPages            int      `mapstructure:"MAX_PAGES"`
	SearchConcurrency   int      `mapstructure:"SEARCH_CONCURRENCY"`
	UserAgents          []string `mapstructure:"USER_AGENTS"`
	ProxyURLs           []string `mapstructure:"PROXY_URLS"`
}

// Load reads configuration from a .env file in the working directory, if
// present, and from environment variables.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the given env file and the environment.
// Environment variables win over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in production.
	_ = v.ReadInConfig()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "data/booksource.db")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PAGE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("FETCH_MODE", "http")
	v.SetDefault("FETCH_TIMEOUT_SECONDS", 15)
	v.SetDefault("MAX_BODY_BYTES", 10*1024*1024)
	v.SetDefault("MAX_PAGES", 10)
	v.SetDefault("SEARCH_CONCURRENCY", 8)
	v.SetDefault("USER_AGENTS", []string{})
	v.SetDefault("PROXY_URLS", []string{})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings and their dependencies.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("config: STORE_DRIVER=postgres requires POSTGRES_URL")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.FetchMode != "http" && c.FetchMode != "browser" {
		return fmt.Errorf("config: unknown FETCH_MODE %q", c.FetchMode)
	}
	if c.MaxPages < 1 || c.SearchConcurrency < 1 {
		return fmt.Errorf("config: MAX_PAGES and SEARCH_CONCURRENCY must be positive")
	}
	return nil
}

// FetchTimeout is the per-request fetch deadline.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// PageCacheTTL is how long fetched pages stay in Redis.
func (c *Config) PageCacheTTL() time.Duration {
	return time.Duration(c.PageCacheTTLSeconds) * time.Second
}
