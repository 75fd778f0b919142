package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
)

// RequiredBucket is the only bucket this pipeline is allowed to write to.
// Refusing anything else prevents a misconfigured run from polluting a
// foreign bucket with partition trees.
const RequiredBucket = "hoops-edge"

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// APIConfig holds upstream stats-API client configuration
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`

	// Token is resolved from the environment at load time, never from the
	// config file
	Token string `mapstructure:"-"`
}

// StorageConfig holds S3-compatible object storage configuration
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
}

// DatabaseConfig holds database configuration for checkpoints and the
// schema catalog. An empty host selects the in-memory implementations.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// IngestConfig holds orchestration tuning knobs
type IngestConfig struct {
	FirstSeason int `mapstructure:"first_season"`
	// LastSeason caps the default season range; zero means the season in
	// progress at run time
	LastSeason       int      `mapstructure:"last_season"`
	DateWindowDays   int      `mapstructure:"date_window_days"`
	ChunkDays        int      `mapstructure:"chunk_days"`
	FanoutBatchSize  int      `mapstructure:"fanout_batch_size"`
	WorkerPoolSize   int      `mapstructure:"worker_pool_size"`
	LogEveryRequests int      `mapstructure:"log_every_requests"`
	SkipEndpoints    []string `mapstructure:"skip_endpoints"`
}

// ETLConfig holds configuration for the cbbd-etl and gap-fill binaries
type ETLConfig struct {
	BaseConfig `mapstructure:",squash"`
	API        APIConfig                      `mapstructure:"api"`
	Storage    StorageConfig                  `mapstructure:"storage"`
	Database   DatabaseConfig                 `mapstructure:"database"`
	Ingest     IngestConfig                   `mapstructure:"ingest"`
	Endpoints  map[string]domain.EndpointSpec `mapstructure:"endpoints"`
}

// LoadETLConfig loads and validates configuration for the ETL binaries
func LoadETLConfig(configFile string, envPath string) (*ETLConfig, error) {
	v := configureViper("cbbd-etl", configFile, envPath)

	// Set defaults
	v.SetDefault("api.base_url", "https://api.collegebasketballdata.com")
	v.SetDefault("api.rate_per_sec", 4)
	v.SetDefault("api.max_concurrency", 4)
	v.SetDefault("api.max_retries", 5)
	v.SetDefault("api.retry_base_delay", "500ms")
	v.SetDefault("api.retry_max_delay", "30s")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", RequiredBucket)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("ingest.first_season", 2003)
	v.SetDefault("ingest.date_window_days", 3)
	v.SetDefault("ingest.chunk_days", 30)
	v.SetDefault("ingest.fanout_batch_size", 25)
	v.SetDefault("ingest.worker_pool_size", 8)
	v.SetDefault("ingest.log_every_requests", 100)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg ETLConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.API.Token = resolveToken()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	validated, err := domain.ValidateRegistry(cfg.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to validate endpoint registry: %w", err)
	}
	cfg.Endpoints = validated

	return &cfg, nil
}

// Validate checks the invariants a run must not start without
func (c *ETLConfig) Validate() error {
	if c.Storage.Bucket != RequiredBucket {
		return fmt.Errorf("storage.bucket must be %q, got %q", RequiredBucket, c.Storage.Bucket)
	}
	if c.API.Token == "" {
		return errors.New("API token is required: set CBBD_API_KEY or BEARER_TOKEN")
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.RatePerSec <= 0 {
		return errors.New("api.rate_per_sec must be positive")
	}
	if c.API.MaxConcurrency <= 0 {
		return errors.New("api.max_concurrency must be positive")
	}
	return nil
}

// UsesDatabase reports whether a Postgres DSN is configured; without one the
// checkpoint store and schema catalog fall back to in-memory implementations
func (c *ETLConfig) UsesDatabase() bool {
	return c.Database.Host != ""
}

// resolveToken returns the bearer token from the environment, preferring the
// project-specific variable
func resolveToken() string {
	if token := os.Getenv("CBBD_API_KEY"); token != "" {
		return token
	}
	return os.Getenv("BEARER_TOKEN")
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("CBBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// API
		"api.base_url",
		"api.rate_per_sec",
		"api.max_concurrency",
		"api.max_retries",
		"api.retry_base_delay",
		"api.retry_max_delay",
		"api.timeout",
		// Storage
		"storage.endpoint",
		"storage.access_key",
		"storage.secret_key",
		"storage.use_ssl",
		"storage.region",
		"storage.bucket",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Ingest
		"ingest.first_season",
		"ingest.last_season",
		"ingest.date_window_days",
		"ingest.chunk_days",
		"ingest.fanout_batch_size",
		"ingest.worker_pool_size",
		"ingest.log_every_requests",
		"ingest.skip_endpoints",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
