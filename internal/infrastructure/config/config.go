package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Cache    CacheConfig
	Engine   EngineConfig
}

// CacheConfig represents the attribute registry cache configuration
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 104857600 = 100MB)
	TTLMinutes     int   // Time-to-live for cached definitions in minutes
}

// EngineConfig represents tunables of the modeling/query engine
type EngineConfig struct {
	// SequenceRetryAttempts bounds the internal retries of an auto-increment
	// allocation before SequenceConflict is surfaced.
	SequenceRetryAttempts int
	// SequenceRetryBaseBackoff is the base for jittered backoff between
	// sequence retries.
	SequenceRetryBaseBackoff time.Duration
	// StorageTimeout bounds every storage call issued by the services.
	StorageTimeout time.Duration
	// MaxPageSize caps the query page window.
	MaxPageSize int
	// MaxExpandDepth caps reference expansion depth requested by callers.
	MaxExpandDepth int
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Find project root
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	// Set config file name based on environment
	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot) // Project root

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "puroteusu")
	viper.SetDefault("DB_NAME", "puroteusu_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 50*1024*1024) // 50MB
	viper.SetDefault("CACHE_TTL_MINUTES", 5)

	// Engine defaults
	viper.SetDefault("SEQUENCE_RETRY_ATTEMPTS", 4)
	viper.SetDefault("SEQUENCE_RETRY_BASE_BACKOFF_MS", 25)
	viper.SetDefault("STORAGE_TIMEOUT_SECONDS", 10)
	viper.SetDefault("QUERY_MAX_PAGE_SIZE", 500)
	viper.SetDefault("REFERENCE_MAX_EXPAND_DEPTH", 5)

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	config := &Config{
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: dbPassword,
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		Engine: EngineConfig{
			SequenceRetryAttempts:    viper.GetInt("SEQUENCE_RETRY_ATTEMPTS"),
			SequenceRetryBaseBackoff: time.Duration(viper.GetInt("SEQUENCE_RETRY_BASE_BACKOFF_MS")) * time.Millisecond,
			StorageTimeout:           time.Duration(viper.GetInt("STORAGE_TIMEOUT_SECONDS")) * time.Second,
			MaxPageSize:              viper.GetInt("QUERY_MAX_PAGE_SIZE"),
			MaxExpandDepth:           viper.GetInt("REFERENCE_MAX_EXPAND_DEPTH"),
		},
	}

	return config, nil
}

// ConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
