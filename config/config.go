package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Warehouse WarehouseConfig
	LLM       LLMConfig
	Search    SearchConfig
	EAN       EANConfig
	Lock      LockConfig
	PDF       PDFConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Environment    string        `mapstructure:"environment"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// StorageConfig holds object storage configuration for extracted images
type StorageConfig struct {
	Type          string `mapstructure:"type"` // "gcs", "s3" or "local"
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	PublicACL     bool   `mapstructure:"public_acl"`
	LocalDir      string `mapstructure:"local_dir"`
	S3Region      string `mapstructure:"s3_region"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3PathStyle   bool   `mapstructure:"s3_path_style"`

	// Static keys for S3-compatible stores; empty uses the default AWS credential chain
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
}

// WarehouseConfig holds the data warehouse configuration
type WarehouseConfig struct {
	Type             string `mapstructure:"type"` // "bigquery", "postgres" or "sqlite"
	ProjectID        string `mapstructure:"project_id"`
	Location         string `mapstructure:"location"`
	Dataset          string `mapstructure:"dataset"`
	StagingTable     string `mapstructure:"staging_table"`
	StructuredPrefix string `mapstructure:"structured_prefix"`
	Model            string `mapstructure:"model"`
	EANFunction      string `mapstructure:"ean_function"`
	ConnectionID     string `mapstructure:"connection_id"`
	ModelEndpoint    string `mapstructure:"model_endpoint"`
	EANEndpointURL   string `mapstructure:"ean_endpoint_url"`
	DSN              string `mapstructure:"dsn"`
}

// LLMConfig holds the hosted model configuration used by SQL warehouses
type LLMConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SearchConfig holds web search API configuration for EAN lookups
type SearchConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	EngineID      string        `mapstructure:"engine_id"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// EANConfig holds EAN lookup service configuration
type EANConfig struct {
	RemoteURL   string        `mapstructure:"remote_url"` // empty: look up in-process
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LockConfig holds the per-product pipeline lock configuration
type LockConfig struct {
	Type     string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PDFConfig holds document extraction configuration
type PDFConfig struct {
	OCRFallback  bool     `mapstructure:"ocr_fallback"`
	OCRLanguages []string `mapstructure:"ocr_languages"`
	OCRDPI       float64  `mapstructure:"ocr_dpi"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // upload requests per minute per client IP
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sheetlens/")

	v.SetEnvPrefix("SHEETLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployed lookup function reads its credentials from these names
	_ = v.BindEnv("search.api_key", "SHEETLENS_SEARCH_API_KEY", "SEARCH_API_KEY")
	_ = v.BindEnv("search.engine_id", "SHEETLENS_SEARCH_ENGINE_ID", "SEARCH_ENGINE_ID")

	setDefaults(v)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadEnvFile loads a .env file from the working directory if present.
// Variables already set in the environment are not overridden.
func LoadEnvFile() error {
	return loadEnvFile()
}

func loadEnvFile() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*"})
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.request_timeout", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.type", "gcs")
	v.SetDefault("storage.public_acl", true)
	v.SetDefault("storage.local_dir", "./data/images")
	v.SetDefault("storage.s3_region", "us-east-1")

	v.SetDefault("warehouse.type", "bigquery")
	v.SetDefault("warehouse.location", "US")
	v.SetDefault("warehouse.dataset", "product_data")
	v.SetDefault("warehouse.staging_table", "staging_product_data")
	v.SetDefault("warehouse.structured_prefix", "structured_products")
	v.SetDefault("warehouse.model", "gemini_model")
	v.SetDefault("warehouse.ean_function", "find_ean")
	v.SetDefault("warehouse.model_endpoint", "gemini-2.0-flash")

	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "2m")

	v.SetDefault("search.base_url", "https://www.googleapis.com")
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rate_per_second", 5.0)
	v.SetDefault("search.burst", 5)

	v.SetDefault("ean.concurrency", 4)
	v.SetDefault("ean.timeout", "2m")

	v.SetDefault("lock.type", "memory")
	v.SetDefault("lock.ttl", "15m")

	v.SetDefault("pdf.ocr_fallback", false)
	v.SetDefault("pdf.ocr_languages", []string{"eng"})
	v.SetDefault("pdf.ocr_dpi", 300.0)

	v.SetDefault("ratelimit.per_ip", 30)

	// Keys without a meaningful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal
	for _, key := range []string{
		"storage.bucket", "storage.public_base_url", "storage.s3_endpoint", "storage.s3_path_style",
		"storage.s3_access_key_id", "storage.s3_secret_access_key",
		"warehouse.project_id", "warehouse.connection_id", "warehouse.ean_endpoint_url", "warehouse.dsn",
		"llm.api_key", "ean.remote_url", "lock.redis_url",
	} {
		v.SetDefault(key, "")
	}
}

// validate checks enum settings shared by every command
func validate(config *Config) error {
	switch config.Storage.Type {
	case "gcs", "s3", "local":
	default:
		return fmt.Errorf("storage type must be 'gcs', 's3' or 'local', got: %s", config.Storage.Type)
	}

	switch config.Warehouse.Type {
	case "bigquery", "postgres", "sqlite":
	default:
		return fmt.Errorf("warehouse type must be 'bigquery', 'postgres' or 'sqlite', got: %s", config.Warehouse.Type)
	}

	if config.Lock.Type != "memory" && config.Lock.Type != "redis" {
		return fmt.Errorf("lock type must be 'memory' or 'redis', got: %s", config.Lock.Type)
	}

	if config.Lock.Type == "redis" && config.Lock.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when lock type is 'redis'")
	}

	if config.EAN.Concurrency < 1 {
		return fmt.Errorf("ean concurrency must be at least 1, got: %d", config.EAN.Concurrency)
	}

	return nil
}

// ValidatePipeline checks the backends needed to run the ingestion pipeline.
// The standalone EAN lookup server does not need them.
func (c *Config) ValidatePipeline() error {
	if c.Storage.Type != "local" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required for storage type '%s' (set SHEETLENS_STORAGE_BUCKET)", c.Storage.Type)
	}

	switch c.Warehouse.Type {
	case "bigquery":
		if c.Warehouse.ProjectID == "" {
			return fmt.Errorf("warehouse project id is required for BigQuery (set SHEETLENS_WAREHOUSE_PROJECT_ID)")
		}
	case "postgres", "sqlite":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("warehouse DSN is required for warehouse type '%s'", c.Warehouse.Type)
		}
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for warehouse type '%s' (set SHEETLENS_LLM_API_KEY)", c.Warehouse.Type)
		}
	}

	return nil
}

// SearchConfigured reports whether EAN search credentials are present
func (c *Config) SearchConfigured() bool {
	return c.Search.APIKey != "" && c.Search.EngineID != ""
}
