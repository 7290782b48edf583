// Package config loads and validates the gateway configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the TGW_ prefix (e.g., TGW_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Converter ConverterConfig `mapstructure:"converter"`
	Sharedo   SharedoConfig   `mapstructure:"sharedo"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxUploadBytes caps the size of an uploaded archive accepted by the API.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// DSN returns the PostgreSQL connection string for lib/pq
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Local          LocalStorageConfig `mapstructure:"local"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Static credentials; when empty the AWS default credential chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// UsePathStyle forces path-style addressing (required by MinIO)
	UsePathStyle bool `mapstructure:"use_path_style"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// ConverterConfig holds the external document converter configuration
type ConverterConfig struct {
	// URL is the conversion endpoint (POST multipart {file, timeout})
	URL string `mapstructure:"url"`
	// Timeout is the conversion budget signalled to the converter and used
	// as the HTTP request deadline
	Timeout time.Duration `mapstructure:"timeout"`
}

// SharedoConfig holds the Sharedo platform connection identity. These are
// fixed deployment parameters, not per-request inputs.
type SharedoConfig struct {
	// HostURL is the base URL of the Sharedo instance API
	HostURL string `mapstructure:"host_url"`
	// IdentityURL is the base URL of the Sharedo identity server (token endpoint)
	IdentityURL string `mapstructure:"identity_url"`
	// ClientID and ClientSecret identify this gateway as a registered app
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// ImpersonateUser and ImpersonateProvider name the service identity the
	// token grant impersonates
	ImpersonateUser     string `mapstructure:"impersonate_user"`
	ImpersonateProvider string `mapstructure:"impersonate_provider"`
}

// WorkflowConfig holds workflow behaviour toggles
type WorkflowConfig struct {
	Deploy DeployConfig `mapstructure:"deploy"`
}

// DeployConfig holds deploy-operation behaviour
type DeployConfig struct {
	// EmbedProvenance controls whether Deploy patches the converted document
	// container to carry the template system name as a custom property
	// before uploading it to the platform.
	EmbedProvenance bool `mapstructure:"embed_provenance"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads configuration from the given path (or default locations), layers
// environment variables on top, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/template-gateway")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("TGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures.
	// AutomaticEnv() alone does not cooperate with Unmarshal().
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Sharedo.ClientSecret = expandEnv(cfg.Sharedo.ClientSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars binds every nested config key to its TGW_ environment variable.
// viper.BindEnv only errors when called with zero keys; since every key here is
// a non-empty literal the error is impossible, but we propagate it anyway.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",
		"server.max_upload_bytes",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"storage.default_backend",
		"storage.local.base_path",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.use_path_style",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"converter.url",
		"converter.timeout",
		"sharedo.host_url",
		"sharedo.identity_url",
		"sharedo.client_id",
		"sharedo.client_secret",
		"sharedo.impersonate_user",
		"sharedo.impersonate_provider",
		"workflow.deploy.embed_provenance",
		"logging.level",
		"logging.format",
		"telemetry.metrics.enabled",
		"telemetry.metrics.port",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}

	return nil
}

// setDefaults sets sensible default values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_upload_bytes", int64(100<<20)) // 100 MB

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "template_gateway")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./data/storage")
	v.SetDefault("storage.s3.region", "us-east-1")

	// Converter defaults
	v.SetDefault("converter.timeout", "30s")

	// Workflow defaults
	v.SetDefault("workflow.deploy.embed_provenance", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Storage.DefaultBackend {
	case "local", "s3", "azure":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be 'local', 's3', or 'azure')", c.Storage.DefaultBackend)
	}

	if c.Storage.DefaultBackend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when storage backend is 's3'")
	}
	if c.Storage.DefaultBackend == "azure" && c.Storage.Azure.ContainerName == "" {
		return fmt.Errorf("azure container name is required when storage backend is 'azure'")
	}

	if c.Converter.Timeout <= 0 {
		return fmt.Errorf("converter timeout must be positive")
	}

	return nil
}

// expandEnv expands ${VAR} references in configuration values, leaving
// literal values untouched.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}
