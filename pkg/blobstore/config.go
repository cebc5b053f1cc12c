package blobstore

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

// Config selects and configures the store chain built by Open.
type Config struct {
	Backend string `env:"BLOBCACHE_BACKEND" envDefault:"memory"`

	// MaxEntries bounds the in-memory backend; 0 means unbounded.
	MaxEntries int `env:"BLOBCACHE_MAX_ENTRIES"`

	SQLite    SQLiteConfig    `envPrefix:"BLOBCACHE_SQLITE_"`
	Redis     RedisConfig     `envPrefix:"BLOBCACHE_REDIS_"`
	Firestore FirestoreConfig `envPrefix:"BLOBCACHE_FIRESTORE_"`
	GCS       GCSConfig       `envPrefix:"BLOBCACHE_GCS_"`

	Compress          bool `env:"BLOBCACHE_COMPRESS"`
	CompressThreshold int  `env:"BLOBCACHE_COMPRESS_THRESHOLD" envDefault:"1024"`

	// Passphrase enables encryption at rest. Salt must then be at least
	// MinSaltSize bytes.
	Passphrase string `env:"BLOBCACHE_PASSPHRASE"`
	Salt       string `env:"BLOBCACHE_SALT"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse blob store env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.MaxEntries < 0 {
			return fmt.Errorf("max entries cannot be negative")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite backend requires BLOBCACHE_SQLITE_PATH")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis backend requires BLOBCACHE_REDIS_ADDR")
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore backend requires BLOBCACHE_FIRESTORE_PROJECT_ID")
		}
	case BackendGCS:
		if c.GCS.BucketName == "" {
			return fmt.Errorf("gcs backend requires BLOBCACHE_GCS_BUCKET")
		}
	default:
		return fmt.Errorf("unknown blob store backend %q", c.Backend)
	}
	if c.Passphrase != "" && len(c.Salt) < MinSaltSize {
		return fmt.Errorf("encryption requires a salt of at least %d bytes", MinSaltSize)
	}
	return nil
}
