package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Queue      QueueConfig      `yaml:"queue"`
	Sweeps     SweepsConfig     `yaml:"sweeps"`
	Smartlead  SmartleadConfig  `yaml:"smartlead"`
	SES        SESConfig        `yaml:"ses"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Bedrock    BedrockConfig    `yaml:"bedrock"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Alerting   AlertingConfig   `yaml:"alerting"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	WebhookSecret  string   `yaml:"webhook_secret"`
	APIKey         string   `yaml:"api_key"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// ConnLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// RedisConfig holds the Redis connection used by the task queue and sweep locks.
// An empty URL disables Redis: the worker then falls back to inline processing
// and Postgres advisory locks.
type RedisConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// SchedulingConfig holds the sequencing defaults
type SchedulingConfig struct {
	DefaultTimezone       string `yaml:"default_timezone"`
	DefaultWeekdays       []int  `yaml:"default_weekdays"` // 0 = Sunday
	DefaultStartHour      int    `yaml:"default_start_hour"`
	DefaultEndHour        int    `yaml:"default_end_hour"`
	Jitter                bool   `yaml:"jitter"`
	LeadTimeMinutes       int    `yaml:"lead_time_minutes"`
	GenerationMaxAttempts int    `yaml:"generation_max_attempts"`
	SendMaxAttempts       int    `yaml:"send_max_attempts"`
	UpFront               bool   `yaml:"up_front"`
	GenerateImmediately   bool   `yaml:"generate_immediately"`
}

// LeadTime returns how far ahead of its send time an entry is generated
func (c SchedulingConfig) LeadTime() time.Duration {
	return time.Duration(c.LeadTimeMinutes) * time.Minute
}

// Weekdays converts DefaultWeekdays to time.Weekday values
func (c SchedulingConfig) Weekdays() []time.Weekday {
	out := make([]time.Weekday, 0, len(c.DefaultWeekdays))
	for _, d := range c.DefaultWeekdays {
		out = append(out, time.Weekday(d))
	}
	return out
}

// QueueConfig tunes the worker pool
type QueueConfig struct {
	Workers          int `yaml:"workers"`
	MaxAttempts      int `yaml:"max_attempts"`
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds"`
}

// Backoff returns the retry base and cap as durations
func (c QueueConfig) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.BaseDelaySeconds) * time.Second, time.Duration(c.MaxDelaySeconds) * time.Second
}

// SweepsConfig holds the periodic sweep intervals
type SweepsConfig struct {
	GenerationIntervalSeconds int `yaml:"generation_interval_seconds"`
	SendIntervalSeconds       int `yaml:"send_interval_seconds"`
	WebhookIntervalSeconds    int `yaml:"webhook_interval_seconds"`
	EscalationIntervalSeconds int `yaml:"escalation_interval_seconds"`
	StaleAgeMinutes           int `yaml:"stale_age_minutes"`
	BatchSize                 int `yaml:"batch_size"`
	WebhookRetentionDays      int `yaml:"webhook_retention_days"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GenerationInterval returns the generation sweep interval
func (c SweepsConfig) GenerationInterval() time.Duration {
	return seconds(c.GenerationIntervalSeconds)
}

// SendInterval returns the send sweep interval
func (c SweepsConfig) SendInterval() time.Duration { return seconds(c.SendIntervalSeconds) }

// WebhookInterval returns the webhook recovery interval
func (c SweepsConfig) WebhookInterval() time.Duration { return seconds(c.WebhookIntervalSeconds) }

// EscalationInterval returns the escalation sweep interval
func (c SweepsConfig) EscalationInterval() time.Duration {
	return seconds(c.EscalationIntervalSeconds)
}

// StaleAge returns how old an unprocessed webhook record must be to be requeued
func (c SweepsConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeMinutes) * time.Minute
}

func (c SweepsConfig) WebhookRetention() time.Duration {
	return time.Duration(c.WebhookRetentionDays) * 24 * time.Hour
}

// SmartleadConfig holds Smartlead API configuration
type SmartleadConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c SmartleadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES v2 configuration for mailboxes on the ses provider
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	Enabled          bool   `yaml:"enabled"`
}

// OpenAIConfig holds OpenAI API configuration for content generation
type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	ClassifierModel string `yaml:"classifier_model"`
	Enabled         bool   `yaml:"enabled"`
}

// BedrockConfig holds the fallback generator configuration
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
	Enabled bool   `yaml:"enabled"`
}

// ArchiveConfig holds S3 archiving of raw webhook payloads
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// AlertingConfig holds operator alerting configuration
type AlertingConfig struct {
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.QueueName == "" {
		cfg.Redis.QueueName = "outreach:tasks"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	// Scheduling defaults: Mon-Fri 9-17 Pacific
	if cfg.Scheduling.DefaultTimezone == "" {
		cfg.Scheduling.DefaultTimezone = "America/Los_Angeles"
	}
	if len(cfg.Scheduling.DefaultWeekdays) == 0 {
		cfg.Scheduling.DefaultWeekdays = []int{1, 2, 3, 4, 5}
	}
	if cfg.Scheduling.DefaultStartHour == 0 && cfg.Scheduling.DefaultEndHour == 0 {
		cfg.Scheduling.DefaultStartHour = 9
		cfg.Scheduling.DefaultEndHour = 17
	}
	if cfg.Scheduling.LeadTimeMinutes == 0 {
		cfg.Scheduling.LeadTimeMinutes = 120
	}
	if cfg.Scheduling.GenerationMaxAttempts == 0 {
		cfg.Scheduling.GenerationMaxAttempts = 3
	}
	if cfg.Scheduling.SendMaxAttempts == 0 {
		cfg.Scheduling.SendMaxAttempts = 3
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.BaseDelaySeconds == 0 {
		cfg.Queue.BaseDelaySeconds = 2
	}
	if cfg.Queue.MaxDelaySeconds == 0 {
		cfg.Queue.MaxDelaySeconds = 300
	}
	if cfg.Sweeps.GenerationIntervalSeconds == 0 {
		cfg.Sweeps.GenerationIntervalSeconds = 60
	}
	if cfg.Sweeps.SendIntervalSeconds == 0 {
		cfg.Sweeps.SendIntervalSeconds = 30
	}
	if cfg.Sweeps.WebhookIntervalSeconds == 0 {
		cfg.Sweeps.WebhookIntervalSeconds = 300
	}
	if cfg.Sweeps.EscalationIntervalSeconds == 0 {
		cfg.Sweeps.EscalationIntervalSeconds = 600
	}
	if cfg.Sweeps.StaleAgeMinutes == 0 {
		cfg.Sweeps.StaleAgeMinutes = 60
	}
	if cfg.Sweeps.BatchSize == 0 {
		cfg.Sweeps.BatchSize = 200
	}
	if cfg.Sweeps.WebhookRetentionDays == 0 {
		cfg.Sweeps.WebhookRetentionDays = 30
	}
	if cfg.Smartlead.BaseURL == "" {
		cfg.Smartlead.BaseURL = "https://server.smartlead.ai/api/v1"
	}
	if cfg.Smartlead.TimeoutSeconds == 0 {
		cfg.Smartlead.TimeoutSeconds = 30
	}
	if cfg.Smartlead.MaxRetries == 0 {
		cfg.Smartlead.MaxRetries = 3
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.OpenAI.ClassifierModel == "" {
		cfg.OpenAI.ClassifierModel = "gpt-4o-mini"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-west-2"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "webhooks/"
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = cfg.SES.Region
	}
	if cfg.Alerting.Environment == "" {
		cfg.Alerting.Environment = "development"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SMARTLEAD_API_KEY"); v != "" {
		cfg.Smartlead.APIKey = v
	}
	if v := os.Getenv("SMARTLEAD_BASE_URL"); v != "" {
		cfg.Smartlead.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
		cfg.OpenAI.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.Alerting.SentryDSN = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Alerting.Environment = v
	}
}
