package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/fan-automation/internal/domain"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig                 `yaml:"server"`
	Database    DatabaseConfig               `yaml:"database"`
	Redis       RedisConfig                  `yaml:"redis"`
	Storage     StorageConfig                `yaml:"storage"`
	Automation  AutomationConfig             `yaml:"automation"`
	Events      EventsConfig                 `yaml:"events"`
	SES         SESConfig                    `yaml:"ses"`
	Templates   map[string]Template          `yaml:"templates"`
	Export      ExportConfig                 `yaml:"export"`
	Experiments ExperimentConfig             `yaml:"experiments"`
	Subjects    []domain.SubjectCapabilities `yaml:"subjects"`
	Auth        AuthConfig                   `yaml:"auth"`
	Log         LogConfig                    `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
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

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig enables the Redis-backed identity locks and due queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// StorageConfig selects the repository backend: "postgres" or "memory".
type StorageConfig struct {
	Type string `yaml:"type"`
}

// Rule maps a trigger event type to a follow-up action.
type Rule struct {
	EventType    domain.EventType `yaml:"event_type"`
	ActionType   string           `yaml:"action_type"`
	DelaySeconds int              `yaml:"delay_seconds"`
}

// Delay returns the configured delay as a duration
func (r Rule) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// AutomationConfig holds the scheduler and action runner settings.
type AutomationConfig struct {
	Rules               []Rule `yaml:"rules"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BackoffBaseSeconds  int    `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds   int    `yaml:"backoff_max_seconds"`
	Workers             int    `yaml:"workers"`
	LeaseSeconds        int    `yaml:"lease_seconds"`
	RecoveryIntervalSec int    `yaml:"recovery_interval_seconds"`
	Channel             string `yaml:"channel"`
}

// BackoffBase returns the first retry delay.
func (c AutomationConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay cap.
func (c AutomationConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// Lease returns how long a claimed action stays owned by one worker.
func (c AutomationConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// RecoveryInterval returns the pending-action sweep interval.
func (c AutomationConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSec) * time.Second
}

// EventsConfig holds event notification settings.
type EventsConfig struct {
	DispatchWorkers int       `yaml:"dispatch_workers"`
	QueueSize       int       `yaml:"queue_size"`
	SQS             SQSConfig `yaml:"sqs"`

	// Events without a processed checkpoint are re-notified once their last
	// notification is RedeliverAfterSec old, up to MaxRedeliveries times.
	RecoveryIntervalSec int `yaml:"recovery_interval_seconds"`
	RedeliverAfterSec   int `yaml:"redeliver_after_seconds"`
	MaxRedeliveries     int `yaml:"max_redeliveries"`
}

// RecoveryInterval returns the unprocessed-event sweep interval.
func (c EventsConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSec) * time.Second
}

// RedeliverAfter returns the grace period before an event is re-notified.
func (c EventsConfig) RedeliverAfter() time.Duration {
	return time.Duration(c.RedeliverAfterSec) * time.Second
}

// SQSConfig points the notifier at an SQS queue. Empty QueueURL keeps
// notification in-process.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Send quotas, shared across the fleet through Redis. Zero disables.
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	DailyQuota   int `yaml:"daily_quota"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Template is the liquid source for one action type's message.
type Template struct {
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
	Text    string `yaml:"text"`
}

// ExportConfig controls the periodic S3 export of event counts.
type ExportConfig struct {
	Enabled         bool   `yaml:"enabled"`
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	Prefix          string `yaml:"prefix"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	Bucket          string `yaml:"bucket"`
	// DynamoTable additionally writes one row per count when set.
	DynamoTable string `yaml:"dynamo_table"`
	// LocalDir receives the snapshots when no S3 bucket is configured.
	LocalDir string `yaml:"local_dir"`
}

// Interval returns the export interval as a duration
func (c ExportConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ExperimentConfig names the CTA copy experiment and its variants.
type ExperimentConfig struct {
	CTACopyKey string   `yaml:"cta_copy_key"`
	Variants   []string `yaml:"variants"`
	CacheSize  int      `yaml:"cache_size"`
}

// AuthConfig holds the admin API authentication settings.
type AuthConfig struct {
	// APIKeys maps key to actor id.
	APIKeys            map[string]string `yaml:"api_keys"`
	TrustGatewayHeader bool              `yaml:"trust_gateway_header"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
	Console   bool   `yaml:"console"`
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
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Storage.Type == "" {
		if cfg.Database.URL != "" {
			cfg.Storage.Type = "postgres"
		} else {
			cfg.Storage.Type = "memory"
		}
	}
	if len(cfg.Automation.Rules) == 0 {
		cfg.Automation.Rules = []Rule{{
			EventType:    domain.EventListenClick,
			ActionType:   "listen_followup",
			DelaySeconds: 7 * 60,
		}}
	}
	if cfg.Automation.MaxAttempts == 0 {
		cfg.Automation.MaxAttempts = 5
	}
	if cfg.Automation.BackoffBaseSeconds == 0 {
		cfg.Automation.BackoffBaseSeconds = 30
	}
	if cfg.Automation.BackoffMaxSeconds == 0 {
		cfg.Automation.BackoffMaxSeconds = 3600
	}
	if cfg.Automation.Workers == 0 {
		cfg.Automation.Workers = 4
	}
	if cfg.Automation.LeaseSeconds == 0 {
		cfg.Automation.LeaseSeconds = 60
	}
	if cfg.Automation.RecoveryIntervalSec == 0 {
		cfg.Automation.RecoveryIntervalSec = 60
	}
	if cfg.Automation.Channel == "" {
		cfg.Automation.Channel = "email"
	}
	if cfg.Events.DispatchWorkers == 0 {
		cfg.Events.DispatchWorkers = 4
	}
	if cfg.Events.QueueSize == 0 {
		cfg.Events.QueueSize = 1024
	}
	if cfg.Events.RecoveryIntervalSec == 0 {
		cfg.Events.RecoveryIntervalSec = 60
	}
	if cfg.Events.RedeliverAfterSec == 0 {
		cfg.Events.RedeliverAfterSec = 120
	}
	if cfg.Events.MaxRedeliveries == 0 {
		cfg.Events.MaxRedeliveries = 10
	}
	if cfg.Events.SQS.Region == "" {
		cfg.Events.SQS.Region = "us-west-2"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Export.IntervalMinutes == 0 {
		cfg.Export.IntervalMinutes = 60
	}
	if cfg.Export.Bucket == "" {
		cfg.Export.Bucket = string(domain.BucketHour)
	}
	if cfg.Export.Prefix == "" {
		cfg.Export.Prefix = "event-counts"
	}
	if cfg.Export.LocalDir == "" {
		cfg.Export.LocalDir = "data/exports"
	}
	if cfg.Export.S3Region == "" {
		cfg.Export.S3Region = "us-west-2"
	}
	if cfg.Experiments.CTACopyKey == "" {
		cfg.Experiments.CTACopyKey = "cta_copy"
	}
	if len(cfg.Experiments.Variants) == 0 {
		cfg.Experiments.Variants = []string{"control"}
	}
	if cfg.Experiments.CacheSize == 0 {
		cfg.Experiments.CacheSize = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
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

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Storage.Type = "postgres"
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SQS_EVENTS_QUEUE_URL"); v != "" {
		cfg.Events.SQS.QueueURL = v
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
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
		cfg.Export.Enabled = true
	}
	if v := os.Getenv("EXPORT_DYNAMO_TABLE"); v != "" {
		cfg.Export.DynamoTable = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AUTOMATION_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Automation.MaxAttempts = n
		}
	}
	// ADMIN_API_KEYS is "key:actor,key:actor".
	if v := os.Getenv("ADMIN_API_KEYS"); v != "" {
		if cfg.Auth.APIKeys == nil {
			cfg.Auth.APIKeys = make(map[string]string)
		}
		for _, pair := range strings.Split(v, ",") {
			key, actor, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && key != "" && actor != "" {
				cfg.Auth.APIKeys[key] = actor
			}
		}
	}

	return cfg, nil
}
