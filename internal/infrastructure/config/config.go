package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Log        LogConfig
	AWS        AWSConfig
	Store      StoreConfig
	Queue      QueueConfig
	Processor  ProcessorConfig
	Aggregator AggregatorConfig
	Redis      RedisConfig
	HTTP       HTTPConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AWSConfig holds shared AWS client settings. Endpoint is empty for real
// AWS and points at an emulator such as LocalStack otherwise.
type AWSConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StoreConfig holds the DynamoDB table names. Names are resolved once at
// startup; nothing downstream re-derives them per call.
type StoreConfig struct {
	BillingTable string
	InvoiceTable string
}

// QueueConfig holds the SQS queue names
type QueueConfig struct {
	BillingQueue string
	InvoiceQueue string
}

// ProcessorConfig holds lifecycle processor configuration
type ProcessorConfig struct {
	MaxRetryCount int
	BatchSize     int
	ReceiveWait   time.Duration
	LockTTL       time.Duration
	LockEnabled   bool
	// Simulated downstream behaviour
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

// AggregatorConfig holds invoice aggregator configuration
type AggregatorConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	WindowSize  time.Duration
	Timeout     time.Duration
	ReceiveWait time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BILLING_ prefix (e.g., BILLING_AWS_REGION)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		AWS: AWSConfig{
			Region:    v.GetString("aws.region"),
			Endpoint:  v.GetString("aws.endpoint"),
			AccessKey: v.GetString("aws.access_key"),
			SecretKey: v.GetString("aws.secret_key"),
		},
		Store: StoreConfig{
			BillingTable: v.GetString("store.billing_table"),
			InvoiceTable: v.GetString("store.invoice_table"),
		},
		Queue: QueueConfig{
			BillingQueue: v.GetString("queue.billing_queue"),
			InvoiceQueue: v.GetString("queue.invoice_queue"),
		},
		Processor: ProcessorConfig{
			MaxRetryCount: v.GetInt("processor.max_retry_count"),
			BatchSize:     v.GetInt("processor.batch_size"),
			ReceiveWait:   v.GetDuration("processor.receive_wait"),
			LockTTL:       v.GetDuration("processor.lock_ttl"),
			LockEnabled:   v.GetBool("processor.lock_enabled"),
			FailureRate:   v.GetFloat64("processor.failure_rate"),
			MinLatency:    v.GetDuration("processor.min_latency"),
			MaxLatency:    v.GetDuration("processor.max_latency"),
		},
		Aggregator: AggregatorConfig{
			Enabled:     v.GetBool("aggregator.enabled"),
			Interval:    v.GetDuration("aggregator.interval"),
			BatchSize:   v.GetInt("aggregator.batch_size"),
			WindowSize:  v.GetDuration("aggregator.window_size"),
			Timeout:     v.GetDuration("aggregator.timeout"),
			ReceiveWait: v.GetDuration("aggregator.receive_wait"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "billing-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Store.BillingTable == "" {
		cfg.Store.BillingTable = "billing-records"
	}
	if cfg.Store.InvoiceTable == "" {
		cfg.Store.InvoiceTable = "invoices"
	}
	if cfg.Queue.BillingQueue == "" {
		cfg.Queue.BillingQueue = "billing-queue"
	}
	if cfg.Queue.InvoiceQueue == "" {
		cfg.Queue.InvoiceQueue = "invoice-queue"
	}
	if cfg.Processor.MaxRetryCount == 0 {
		cfg.Processor.MaxRetryCount = 3
	}
	if cfg.Processor.BatchSize == 0 {
		cfg.Processor.BatchSize = 10
	}
	if cfg.Processor.ReceiveWait == 0 {
		cfg.Processor.ReceiveWait = 10 * time.Second
	}
	if cfg.Processor.LockTTL == 0 {
		cfg.Processor.LockTTL = 30 * time.Second
	}
	if cfg.Processor.FailureRate == 0 {
		cfg.Processor.FailureRate = 0.3
	}
	if cfg.Processor.MinLatency == 0 {
		cfg.Processor.MinLatency = 10 * time.Millisecond
	}
	if cfg.Processor.MaxLatency == 0 {
		cfg.Processor.MaxLatency = 100 * time.Millisecond
	}
	if cfg.Aggregator.Interval == 0 {
		cfg.Aggregator.Interval = time.Minute
	}
	if cfg.Aggregator.BatchSize == 0 {
		cfg.Aggregator.BatchSize = 10
	}
	if cfg.Aggregator.WindowSize == 0 {
		cfg.Aggregator.WindowSize = 5 * time.Minute
	}
	if cfg.Aggregator.Timeout == 0 {
		cfg.Aggregator.Timeout = 60 * time.Second
	}
	if cfg.Aggregator.ReceiveWait == 0 {
		cfg.Aggregator.ReceiveWait = time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Processor.MaxRetryCount < 1 {
		return fmt.Errorf("processor.max_retry_count must be at least 1")
	}
	if c.Processor.BatchSize < 1 || c.Processor.BatchSize > 10 {
		return fmt.Errorf("processor.batch_size must be between 1 and 10, got %d", c.Processor.BatchSize)
	}
	if c.Processor.ReceiveWait < 0 || c.Processor.ReceiveWait > 20*time.Second {
		return fmt.Errorf("processor.receive_wait must be between 0s and 20s, got %s", c.Processor.ReceiveWait)
	}
	if c.Processor.FailureRate < 0 || c.Processor.FailureRate > 1 {
		return fmt.Errorf("processor.failure_rate must be between 0.0 and 1.0, got %f", c.Processor.FailureRate)
	}
	if c.Processor.MaxLatency < c.Processor.MinLatency {
		return fmt.Errorf("processor.max_latency (%s) cannot be below processor.min_latency (%s)",
			c.Processor.MaxLatency, c.Processor.MinLatency)
	}

	if c.Aggregator.BatchSize < 1 || c.Aggregator.BatchSize > 10 {
		return fmt.Errorf("aggregator.batch_size must be between 1 and 10, got %d", c.Aggregator.BatchSize)
	}
	if c.Aggregator.WindowSize <= 0 {
		return fmt.Errorf("aggregator.window_size must be positive")
	}
	if c.Aggregator.Timeout <= 0 {
		return fmt.Errorf("aggregator.timeout must be positive")
	}
	if c.Aggregator.ReceiveWait < 0 || c.Aggregator.ReceiveWait > 20*time.Second {
		return fmt.Errorf("aggregator.receive_wait must be between 0s and 20s, got %s", c.Aggregator.ReceiveWait)
	}

	if c.Queue.BillingQueue == c.Queue.InvoiceQueue {
		return fmt.Errorf("queue.billing_queue and queue.invoice_queue must differ")
	}
	if c.Store.BillingTable == c.Store.InvoiceTable {
		return fmt.Errorf("store.billing_table and store.invoice_table must differ")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.AWS.Endpoint != "" {
			return fmt.Errorf("aws.endpoint (emulator override) must be empty in production")
		}
		if c.Telemetry.Insecure {
			return fmt.Errorf("telemetry.insecure must be false in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}
