// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Broker API settings
	BrokerBaseURL string // IIFL XTS API root
	BrokerSource  string // Source identifier sent on login (e.g. "WEBAPI")

	// Daily sync settings
	SyncSchedule   string        // Cron expression (with seconds field) for the daily run
	SyncTimezone   string        // IANA timezone used to derive the scheduled date key
	SyncTimeout    time.Duration // Upper bound on a whole run; cancels in-flight tasks
	WorkerPoolSize int           // Bounded concurrency for per-user tasks

	// Retry policy for broker calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// CredentialKey encrypts stored broker credentials (AES-256-GCM).
	// Must be exactly 32 bytes; empty disables the credential store.
	CredentialKey string

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup storage configuration.
// Works with Cloudflare R2 and plain S3; empty endpoint means AWS S3.
type BackupConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
	Schedule        string // Cron expression for the nightly backup job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BROKERSYNC_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8010),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		BrokerBaseURL: getEnv("IIFL_BASE_URL", "https://ttblaze.iifl.com"),
		BrokerSource:  getEnv("IIFL_SOURCE", "WEBAPI"),

		// Default: 18:30 local time, after market close and broker settlement.
		SyncSchedule:   getEnv("SYNC_SCHEDULE", "0 30 18 * * *"),
		SyncTimezone:   getEnv("SYNC_TIMEZONE", "Asia/Kolkata"),
		SyncTimeout:    getEnvAsDuration("SYNC_TIMEOUT", 45*time.Minute),
		WorkerPoolSize: getEnvAsInt("SYNC_WORKERS", 4),

		RetryMaxAttempts: getEnvAsInt("BROKER_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvAsDuration("BROKER_RETRY_BASE_DELAY", 1*time.Second),
		RetryMaxDelay:    getEnvAsDuration("BROKER_RETRY_MAX_DELAY", 30*time.Second),

		CredentialKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),

		Backup: loadBackupConfig(),
	}

	if cfg.WorkerPoolSize < 1 {
		return nil, fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", cfg.WorkerPoolSize)
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("BROKER_RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.CredentialKey != "" && len(cfg.CredentialKey) != 32 {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.CredentialKey))
	}

	return cfg, nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
	}
}

// DatabasePath returns the absolute path for a named database file.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
