package httpfetch

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings for a Fetcher.
type Config struct {
	UserAgent      string        `env:"BLOBCACHE_HTTP_USER_AGENT" envDefault:"go-blobcache/1.0"`
	Timeout        time.Duration `env:"BLOBCACHE_HTTP_TIMEOUT" envDefault:"30s"`
	MaxRetries     uint          `env:"BLOBCACHE_HTTP_MAX_RETRIES" envDefault:"4"`
	InitialBackoff time.Duration `env:"BLOBCACHE_HTTP_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"BLOBCACHE_HTTP_MAX_BACKOFF" envDefault:"30s"`
	// MaxBodyBytes caps how much of a response body is read; larger bodies fail.
	MaxBodyBytes int64 `env:"BLOBCACHE_HTTP_MAX_BODY_BYTES" envDefault:"67108864"`
}

// DefaultConfig returns the settings LoadConfig uses when no variables are set.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:      "go-blobcache/1.0",
		Timeout:        30 * time.Second,
		MaxRetries:     4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxBodyBytes:   64 << 20,
	}
}

// LoadConfig reads Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse http fetcher env: %w", err)
	}
	return &cfg, nil
}
