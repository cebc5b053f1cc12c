package invalidation

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config names the Pub/Sub resources used for invalidation events.
type Config struct {
	ProjectID              string `env:"BLOBCACHE_PUBSUB_PROJECT_ID"`
	TopicID                string `env:"BLOBCACHE_INVALIDATION_TOPIC" envDefault:"blobcache-invalidations"`
	SubscriptionID         string `env:"BLOBCACHE_INVALIDATION_SUBSCRIPTION"`
	MaxOutstandingMessages int    `env:"BLOBCACHE_INVALIDATION_MAX_OUTSTANDING" envDefault:"100"`
	NumGoroutines          int    `env:"BLOBCACHE_INVALIDATION_GOROUTINES" envDefault:"5"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse invalidation env: %w", err)
	}
	return &cfg, nil
}
