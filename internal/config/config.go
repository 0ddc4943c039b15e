package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the ingestion tools
type Config struct {
	Database  DatabaseConfig
	Databento DatabentoConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	URL             string `validate:"required"`
	Driver          string `validate:"oneof=pgx postgres"`
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// OnConflict is "none" (plain insert) or "skip" (requires the unique constraint)
	OnConflict string `validate:"oneof=none skip"`
}

// DatabentoConfig holds the historical provider configuration
type DatabentoConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
}

// IngestConfig holds the fixed per-run ingestion parameters
type IngestConfig struct {
	DataDir         string `validate:"required"`
	Market          string `validate:"required"`
	Timeframe       string `validate:"required,oneof=1s 1m 1h 1d"`
	PageSize        int    `validate:"gt=0,lte=7281"`
	RejectMalformed bool
	PrintCandles    bool
	PrintLimit      int
}

// RetrievalConfig holds the batch job parameters used when local files are missing
type RetrievalConfig struct {
	Enabled         bool
	Dataset         string
	Symbol          string
	Start           string
	End             string
	StypeIn         string
	SplitDuration   string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// MaxWait of zero keeps polling until the job completes
	MaxWait time.Duration
}

// KafkaConfig holds Kafka specific configuration
type KafkaConfig struct {
	Brokers  string
	ClientID string
	Topics   map[string]string
}

// RedisConfig holds Redis specific configuration
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ControlChannel string
	MarketQueue    string
}

// ArchiveConfig holds S3 archive configuration for ingested capture files
type ArchiveConfig struct {
	Enabled   bool
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// ServerConfig holds HTTP control API configuration
type ServerConfig struct {
	Port         string
	ServiceKey   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from an optional file and environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file when present
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Environment variables override
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindEnv binds the well-known environment names used by deployment scripts
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"database.url":      {"DATABASE_URL", "LOCAL_DB_URL"},
		"databento.apiKey":  {"DATABENTO_API_KEY", "DB_API_KEY"},
		"server.serviceKey": {"SERVICE_KEY"},
		"kafka.brokers":     {"KAFKA_BROKERS"},
		"redis.addr":        {"REDIS_ADDR"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")
	v.SetDefault("database.onConflict", "none")

	// Databento defaults
	v.SetDefault("databento.baseURL", "https://hist.databento.com/v0")
	v.SetDefault("databento.timeout", "60s")
	v.SetDefault("databento.rateLimit", 5)

	// Ingest defaults
	v.SetDefault("ingest.dataDir", ".")
	v.SetDefault("ingest.market", "futures")
	v.SetDefault("ingest.timeframe", "1m")
	v.SetDefault("ingest.pageSize", 500)
	v.SetDefault("ingest.printLimit", 100)

	// Retrieval defaults
	v.SetDefault("retrieval.dataset", "GLBX.MDP3")
	v.SetDefault("retrieval.stypeIn", "continuous")
	v.SetDefault("retrieval.splitDuration", "month")
	v.SetDefault("retrieval.pollInterval", "1s")
	v.SetDefault("retrieval.maxPollInterval", "30s")
	v.SetDefault("retrieval.maxWait", "0s")

	// Kafka defaults
	v.SetDefault("kafka.clientID", "market-ingest")
	v.SetDefault("kafka.topics.ingestEvents", "candle-ingest-events")

	// Redis defaults
	v.SetDefault("redis.controlChannel", "control")
	v.SetDefault("redis.marketQueue", "market")

	// Archive defaults
	v.SetDefault("archive.prefix", "captures/")

	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.idleTimeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks every required key and reports all that are missing at once
func (c *Config) Validate() error {
	validate := validator.New()

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	cfgErr := &ConfigurationError{}
	for _, fieldErr := range validationErrs {
		key := configKey(fieldErr.Namespace())
		if fieldErr.Tag() == "required" {
			cfgErr.Missing = append(cfgErr.Missing, key)
			continue
		}
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s=%v", key, fieldErr.Value()))
	}
	return cfgErr
}

// ValidateRetrieval checks the keys only needed when the remote provider is used
func (c *Config) ValidateRetrieval() error {
	cfgErr := &ConfigurationError{}
	if strings.TrimSpace(c.Databento.APIKey) == "" {
		cfgErr.Missing = append(cfgErr.Missing, "databento.apiKey")
	}
	if strings.TrimSpace(c.Retrieval.Dataset) == "" {
		cfgErr.Missing = append(cfgErr.Missing, "retrieval.dataset")
	}
	if len(cfgErr.Missing) > 0 {
		return cfgErr
	}
	return nil
}

// KafkaBrokers splits the comma separated broker list
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// configKey turns "Config.Database.URL" into "database.url"
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = lowerFirst(p)
	}
	return strings.Join(parts, ".")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if strings.ToUpper(s) == s {
		return strings.ToLower(s)
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// IngestEventsTopic returns the topic for ingest events. Viper lower-cases map keys.
func (c *Config) IngestEventsTopic() string {
	return c.Kafka.Topics["ingestevents"]
}
