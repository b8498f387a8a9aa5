// Package config provides configuration management for Datagate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knowledgenet/datagate/internal/content"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Token store backends.
const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// Content store backends.
const (
	ContentStoreMemory = "memory"
	ContentStoreS3     = "s3"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string // default: :8080

	GrantTTL          time.Duration // default grant lifetime (default: 24h)
	GrantMaxDownloads int           // default download quota (default: 5)
	SweepInterval     time.Duration // expiry sweep cadence (default: 1h)

	TokenStore    string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProvenanceDBPath string // sqlite file for the provenance event log

	ContentStore string // "memory" or "s3"
	S3           content.S3Config

	LedgerURL   string // payment ledger base URL; empty selects the static ledger
	CatalogFile string // dataset catalog for the static ledger

	RateLimit string // requests per period, e.g. "100-M"; empty disables
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	grantTTL := getEnvDuration("GRANT_TTL", 24*time.Hour)
	if grantTTL <= 0 {
		grantTTL = 24 * time.Hour
	}

	grantMaxDownloads := getEnvInt("GRANT_MAX_DOWNLOADS", 5)
	if grantMaxDownloads <= 0 {
		grantMaxDownloads = 5
	}

	sweepInterval := getEnvDuration("SWEEP_INTERVAL", time.Hour)
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	return ServerConfig{
		Environment:       env,
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		GrantTTL:          grantTTL,
		GrantMaxDownloads: grantMaxDownloads,
		SweepInterval:     sweepInterval,
		TokenStore:        getEnv("TOKEN_STORE", TokenStoreMemory),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		ProvenanceDBPath:  getEnv("PROVENANCE_DB_PATH", "datagate-provenance.db"),
		ContentStore:      getEnv("CONTENT_STORE", ContentStoreMemory),
		S3: content.S3Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Bucket:          os.Getenv("S3_BUCKET"),
			Prefix:          os.Getenv("S3_PREFIX"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", true),
		},
		LedgerURL:   os.Getenv("LEDGER_URL"),
		CatalogFile: os.Getenv("CATALOG_FILE"),
		RateLimit:   getEnv("RATE_LIMIT", "100-M"),
	}
}

// Validate checks cross-field consistency of the loaded configuration.
func (c *ServerConfig) Validate() error {
	switch c.TokenStore {
	case TokenStoreMemory, TokenStoreRedis:
		// valid
	default:
		return fmt.Errorf("unknown token store %q", c.TokenStore)
	}
	if c.TokenStore == TokenStoreRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when TOKEN_STORE=%s", TokenStoreRedis)
	}
	switch c.ContentStore {
	case ContentStoreMemory:
		// valid
	case ContentStoreS3:
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("s3 content store: %w", err)
		}
	default:
		return fmt.Errorf("unknown content store %q", c.ContentStore)
	}
	return nil
}

// getEnv reads a string from an environment variable, returning the default if unset.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
