package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/media-pipeline/internal/cache"
	"github.com/cuongbtq/media-pipeline/internal/chat"
	"github.com/cuongbtq/media-pipeline/internal/delivery"
	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/gateway"
	"github.com/cuongbtq/media-pipeline/internal/ledger"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/provider/gemini"
	"github.com/cuongbtq/media-pipeline/internal/telemetry"
	"github.com/cuongbtq/media-pipeline/shared/logger"
	"github.com/cuongbtq/media-pipeline/shared/postgresql"
	"github.com/cuongbtq/media-pipeline/shared/rabbitmq"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backend names for queue.backend and storage.backend
const (
	BackendRabbitMQ = "rabbitmq"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
	Provider  ProviderConfig  `yaml:"provider"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// RabbitMQConfig holds RabbitMQ connection and outbound exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Outbound   OutboundConfig   `yaml:"outbound"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// OutboundConfig names the exchange the chat adapter consumes replies from
type OutboundConfig struct {
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// QueueConfig selects the job queue backend
type QueueConfig struct {
	Backend        string `yaml:"backend"`
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// StorageConfig selects the document store backend
type StorageConfig struct {
	Backend string `yaml:"backend"`
}

// ProviderConfig holds AI provider settings
type ProviderConfig struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	TopP              float32 `yaml:"top_p"`
	TopK              float32 `yaml:"top_k"`
	MaxOutputTokens   int32   `yaml:"max_output_tokens"`
	SystemInstruction string  `yaml:"system_instruction"`
}

// GatewayConfig holds the resilience gateway settings
type GatewayConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	MinSpacing       time.Duration `yaml:"min_spacing"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	LongTimeout      time.Duration `yaml:"long_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
}

// CacheConfig holds content cache settings
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// StageConfig holds the settings of one stage queue
type StageConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	JobPause    time.Duration `yaml:"job_pause"`
}

// ImageStages holds the image pipeline stages
type ImageStages struct {
	Upload   StageConfig `yaml:"upload"`
	Analysis StageConfig `yaml:"analysis"`
	Handoff  StageConfig `yaml:"handoff"`
}

// VideoStages holds the video pipeline stages
type VideoStages struct {
	Upload   StageConfig `yaml:"upload"`
	Poll     StageConfig `yaml:"poll"`
	Analysis StageConfig `yaml:"analysis"`
	Handoff  StageConfig `yaml:"handoff"`
}

// PollConfig bounds the wait for provider-side video processing
type PollConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
	MinAttempts int           `yaml:"min_attempts"`
}

// PipelineConfig holds job pipeline settings
type PipelineConfig struct {
	Image            ImageStages       `yaml:"image"`
	Video            VideoStages       `yaml:"video"`
	Poll             PollConfig        `yaml:"poll"`
	InlineLimitBytes int               `yaml:"inline_limit_bytes"`
	ContextLimit     int               `yaml:"context_limit"`
	StaleAfter       time.Duration     `yaml:"stale_after"`
	Prompts          map[string]string `yaml:"prompts"`
}

// LedgerConfig holds transaction ledger settings
type LedgerConfig struct {
	RetentionDays int           `yaml:"retention_days"`
	RecoveryGrace time.Duration `yaml:"recovery_grace"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DeliveryConfig holds pending notification sweep settings
type DeliveryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Retention     time.Duration `yaml:"retention"`
	BatchSize     int           `yaml:"batch_size"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	PrettyPrint bool    `yaml:"pretty_print"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsPort     int           `yaml:"metrics_port"`
}

func stageDefaults(s pipeline.StageConfig) StageConfig {
	return StageConfig{
		Concurrency: s.Concurrency,
		MaxRetries:  s.MaxRetries,
		RetryDelay:  s.RetryDelay,
		Timeout:     s.Timeout,
		JobPause:    s.JobPause,
	}
}

// Default returns the configuration used for every key the file omits
func Default() Config {
	p := pipeline.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  50 << 20,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Outbound: OutboundConfig{
				Exchange:   chat.DefaultExchange,
				RoutingKey: chat.DefaultRoutingKey,
			},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 5 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		App:     AppConfig{Name: "media-pipeline", Environment: "development"},
		Queue:   QueueConfig{Backend: BackendRabbitMQ},
		Storage: StorageConfig{Backend: BackendPostgres},
		Provider: ProviderConfig{
			Model:           "gemini-2.0-flash",
			Temperature:     0.4,
			MaxOutputTokens: 1024,
		},
		Gateway: GatewayConfig{
			FailureThreshold: gateway.DefaultFailureThreshold,
			Cooldown:         gateway.DefaultCooldown,
			MaxConcurrent:    gateway.DefaultMaxConcurrent,
			MinSpacing:       gateway.DefaultMinSpacing,
			DefaultTimeout:   gateway.DefaultTimeout,
			LongTimeout:      gateway.DefaultLongTimeout,
			MaxAttempts:      gateway.DefaultMaxAttempts,
			BaseDelay:        gateway.DefaultBaseDelay,
		},
		Cache: CacheConfig{TTL: cache.DefaultTTL, Capacity: cache.DefaultCapacity},
		Pipeline: PipelineConfig{
			Image: ImageStages{
				Upload:   stageDefaults(p.ImageUpload),
				Analysis: stageDefaults(p.ImageAnalysis),
				Handoff:  stageDefaults(p.ImageHandoff),
			},
			Video: VideoStages{
				Upload:   stageDefaults(p.VideoUpload),
				Poll:     stageDefaults(p.VideoPoll),
				Analysis: stageDefaults(p.VideoAnalysis),
				Handoff:  stageDefaults(p.VideoHandoff),
			},
			Poll: PollConfig{
				BaseDelay:   p.Poll.BaseDelay,
				MaxDelay:    p.Poll.MaxDelay,
				MaxAttempts: p.Poll.MaxAttempts,
				MaxElapsed:  p.Poll.MaxElapsed,
				MinAttempts: p.Poll.MinAttempts,
			},
			InlineLimitBytes: p.InlineLimitBytes,
			ContextLimit:     p.ContextLimit,
			StaleAfter:       p.StaleAfter,
		},
		Ledger: LedgerConfig{
			RetentionDays: ledger.DefaultRetentionDays,
			RecoveryGrace: ledger.DefaultRecoveryGrace,
			SweepInterval: ledger.DefaultSweepInterval,
		},
		Delivery: DeliveryConfig{
			SweepInterval: delivery.DefaultSweepInterval,
			Retention:     delivery.DefaultRetention,
			BatchSize:     delivery.DefaultSweepBatch,
		},
		Telemetry: TelemetryConfig{ServiceName: "media-pipeline", SampleRatio: 1},
		Worker:    WorkerConfig{ShutdownTimeout: 30 * time.Second, MetricsPort: 9091},
	}
}

// Load reads and parses the configuration file on top of the defaults,
// then applies secret overrides from the environment.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
}

func (c *Config) validateBackends() error {
	switch c.Queue.Backend {
	case BackendRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Outbound.Exchange == "" {
			return fmt.Errorf("rabbitmq outbound exchange is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown queue backend %q (want %s or %s)", c.Queue.Backend, BackendRabbitMQ, BackendMemory)
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q (want %s or %s)", c.Storage.Backend, BackendPostgres, BackendMemory)
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be greater than 0")
	}
	return c.validateBackends()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required (set GEMINI_API_KEY)")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model is required")
	}

	if c.Gateway.FailureThreshold <= 0 {
		return fmt.Errorf("gateway failure_threshold must be greater than 0")
	}
	if c.Gateway.MaxConcurrent <= 0 {
		return fmt.Errorf("gateway max_concurrent must be greater than 0")
	}
	if c.Gateway.MaxAttempts <= 0 {
		return fmt.Errorf("gateway max_attempts must be greater than 0")
	}

	stages := map[string]StageConfig{
		"image.upload":   c.Pipeline.Image.Upload,
		"image.analysis": c.Pipeline.Image.Analysis,
		"image.handoff":  c.Pipeline.Image.Handoff,
		"video.upload":   c.Pipeline.Video.Upload,
		"video.poll":     c.Pipeline.Video.Poll,
		"video.analysis": c.Pipeline.Video.Analysis,
		"video.handoff":  c.Pipeline.Video.Handoff,
	}
	for name, s := range stages {
		if s.Concurrency <= 0 {
			return fmt.Errorf("pipeline %s concurrency must be greater than 0", name)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("pipeline %s timeout must be greater than 0", name)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("pipeline %s max_retries must not be negative", name)
		}
	}

	if c.Pipeline.StaleAfter < 0 {
		return fmt.Errorf("pipeline stale_after must not be negative")
	}

	if c.Pipeline.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline poll max_attempts must be greater than 0")
	}
	if c.Pipeline.Poll.MinAttempts > c.Pipeline.Poll.MaxAttempts {
		return fmt.Errorf("pipeline poll min_attempts must not exceed max_attempts")
	}

	for media := range c.Pipeline.Prompts {
		if !domain.MediaType(media).Valid() {
			return fmt.Errorf("pipeline prompt for unknown media type %q", media)
		}
	}

	if c.Ledger.RetentionDays <= 0 {
		return fmt.Errorf("ledger retention_days must be greater than 0")
	}
	if c.Delivery.SweepInterval <= 0 {
		return fmt.Errorf("delivery sweep_interval must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (s StageConfig) toPipeline() pipeline.StageConfig {
	return pipeline.StageConfig{
		Concurrency: s.Concurrency,
		MaxRetries:  s.MaxRetries,
		RetryDelay:  s.RetryDelay,
		Timeout:     s.Timeout,
		JobPause:    s.JobPause,
	}
}

// PipelineConfig converts the pipeline section
func (c *Config) PipelineConfig() pipeline.Config {
	prompts := make(map[domain.MediaType]string, len(c.Pipeline.Prompts))
	for media, text := range c.Pipeline.Prompts {
		prompts[domain.MediaType(media)] = text
	}

	return pipeline.Config{
		ImageUpload:   c.Pipeline.Image.Upload.toPipeline(),
		ImageAnalysis: c.Pipeline.Image.Analysis.toPipeline(),
		ImageHandoff:  c.Pipeline.Image.Handoff.toPipeline(),
		VideoUpload:   c.Pipeline.Video.Upload.toPipeline(),
		VideoPoll:     c.Pipeline.Video.Poll.toPipeline(),
		VideoAnalysis: c.Pipeline.Video.Analysis.toPipeline(),
		VideoHandoff:  c.Pipeline.Video.Handoff.toPipeline(),
		Poll: pipeline.PollConfig{
			BaseDelay:   c.Pipeline.Poll.BaseDelay,
			MaxDelay:    c.Pipeline.Poll.MaxDelay,
			MaxAttempts: c.Pipeline.Poll.MaxAttempts,
			MaxElapsed:  c.Pipeline.Poll.MaxElapsed,
			MinAttempts: c.Pipeline.Poll.MinAttempts,
		},
		InlineLimitBytes: c.Pipeline.InlineLimitBytes,
		ContextLimit:     c.Pipeline.ContextLimit,
		StaleAfter:       c.Pipeline.StaleAfter,
		Prompts:          prompts,
	}
}

// GatewayConfig converts the gateway section
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Breaker: gateway.BreakerConfig{
			FailureThreshold: c.Gateway.FailureThreshold,
			Cooldown:         c.Gateway.Cooldown,
		},
		Limiter: gateway.LimiterConfig{
			MaxConcurrent: c.Gateway.MaxConcurrent,
			MinSpacing:    c.Gateway.MinSpacing,
		},
		DefaultTimeout: c.Gateway.DefaultTimeout,
		LongTimeout:    c.Gateway.LongTimeout,
		MaxAttempts:    c.Gateway.MaxAttempts,
		BaseDelay:      c.Gateway.BaseDelay,
	}
}

// CacheConfig converts the cache section
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{TTL: c.Cache.TTL, Capacity: c.Cache.Capacity}
}

// ProviderConfig converts the provider section
func (c *Config) ProviderConfig() gemini.Config {
	return gemini.Config{
		APIKey: c.Provider.APIKey,
		Model: gemini.ModelSettings{
			Model:             c.Provider.Model,
			Temperature:       c.Provider.Temperature,
			TopP:              c.Provider.TopP,
			TopK:              c.Provider.TopK,
			MaxOutputTokens:   c.Provider.MaxOutputTokens,
			SystemInstruction: c.Provider.SystemInstruction,
		},
	}
}

// LedgerConfig converts the ledger section
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		RetentionDays: c.Ledger.RetentionDays,
		RecoveryGrace: c.Ledger.RecoveryGrace,
		SweepInterval: c.Ledger.SweepInterval,
	}
}

// SweepConfig converts the delivery section
func (c *Config) SweepConfig() delivery.SweepConfig {
	return delivery.SweepConfig{
		Interval:  c.Delivery.SweepInterval,
		Retention: c.Delivery.Retention,
		BatchSize: c.Delivery.BatchSize,
	}
}

// TelemetryConfig converts the telemetry section
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Telemetry.Enabled,
		ServiceName: c.Telemetry.ServiceName,
		PrettyPrint: c.Telemetry.PrettyPrint,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

// ChatConfig converts the outbound exchange settings
func (c *Config) ChatConfig() chat.Config {
	return chat.Config{
		Exchange:   c.RabbitMQ.Outbound.Exchange,
		RoutingKey: c.RabbitMQ.Outbound.RoutingKey,
	}
}

// LoggerConfig converts the logging section
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Output:       c.Logging.Output,
		EnableSource: c.Logging.EnableCaller,
	}
}

// PostgresConfig converts the database section
func (c *Config) PostgresConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// RabbitMQClientConfig converts the rabbitmq section
func (c *Config) RabbitMQClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.RabbitMQ.Host,
		Port:               c.RabbitMQ.Port,
		User:               c.RabbitMQ.User,
		Password:           c.RabbitMQ.Password,
		VHost:              c.RabbitMQ.VHost,
		RetryAttempts:      c.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      c.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          c.RabbitMQ.Connection.Heartbeat,
		PublishRetries:     c.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  c.RabbitMQ.Publish.RetryInterval,
		PublishBackoffMult: c.RabbitMQ.Publish.BackoffMultiplier,
	}
}
