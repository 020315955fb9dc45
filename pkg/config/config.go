package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the registry service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration (authoritative store)
	Database DatabaseConfig `mapstructure:"database"`

	// Offline cache configuration (local SQLite mirror)
	OfflineCache OfflineCacheConfig `mapstructure:"offline_cache"`

	// External registry sync configuration
	Sync SyncConfig `mapstructure:"sync"`

	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Initial administrator for fresh deployments
	BootstrapAdmin BootstrapAdminConfig `mapstructure:"bootstrap_admin"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// OfflineCacheConfig holds local cache configuration. When an
// encryption key is set, clinical fields are encrypted at rest.
type OfflineCacheConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// SyncConfig holds external registry sync configuration
type SyncConfig struct {
	TargetURL      string `mapstructure:"target_url"`
	APIToken       string `mapstructure:"api_token"`
	AttemptTimeout int    `mapstructure:"attempt_timeout"`
	BulkWorkers    int    `mapstructure:"bulk_workers"`
	ProbeInterval  int    `mapstructure:"probe_interval"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	AccessTokenTTL int    `mapstructure:"access_token_ttl"`
	Issuer         string `mapstructure:"issuer"`
}

// BootstrapAdminConfig holds the administrator account created on an
// empty users table. Without it a fresh database has no account that
// can reach the user management endpoints.
type BootstrapAdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/clinsync")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "patient_registry")
	viper.SetDefault("database.user", "registry")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Offline cache defaults
	viper.SetDefault("offline_cache.path", "offline_cache.db")

	// Sync defaults
	viper.SetDefault("sync.attempt_timeout", 30)
	viper.SetDefault("sync.bulk_workers", 4)
	viper.SetDefault("sync.probe_interval", 15)

	// JWT defaults
	viper.SetDefault("jwt.access_token_ttl", 86400) // 24 hours
	viper.SetDefault("jwt.issuer", "clinsync-patient-registry")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if targetURL := os.Getenv("SYNC_TARGET_URL"); targetURL != "" {
		config.Sync.TargetURL = targetURL
	}

	if apiToken := os.Getenv("SYNC_API_TOKEN"); apiToken != "" {
		config.Sync.APIToken = apiToken
	}

	if cacheKey := os.Getenv("OFFLINE_CACHE_KEY"); cacheKey != "" {
		config.OfflineCache.EncryptionKey = cacheKey
	}

	if adminEmail := os.Getenv("BOOTSTRAP_ADMIN_EMAIL"); adminEmail != "" {
		config.BootstrapAdmin.Email = adminEmail
	}

	if adminPassword := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"); adminPassword != "" {
		config.BootstrapAdmin.Password = adminPassword
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Sync.AttemptTimeout <= 0 {
		return fmt.Errorf("invalid sync attempt timeout: %d", config.Sync.AttemptTimeout)
	}

	if config.Sync.BulkWorkers <= 0 {
		return fmt.Errorf("invalid bulk worker count: %d", config.Sync.BulkWorkers)
	}

	if config.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("invalid max open connections: %d", config.Database.MaxOpenConns)
	}

	if config.Database.MaxIdleConns < 0 || config.Database.MaxIdleConns > config.Database.MaxOpenConns {
		return fmt.Errorf("max idle connections must be between 0 and %d, got %d",
			config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	}

	return nil
}
