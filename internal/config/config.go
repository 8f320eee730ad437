package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline services.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	AWS      AWSConfig      `yaml:"aws"`
	Tables   TablesConfig   `yaml:"tables"`
	Queue    QueueConfig    `yaml:"queue"`
	SES      SESConfig      `yaml:"ses"`
	Gmail    GmailConfig    `yaml:"gmail"`
	Tracking TrackingConfig `yaml:"tracking"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds HTTP server configuration for the tracking service.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, binding all interfaces on ECS.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// AWSConfig holds shared AWS client settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"` // empty uses the default credential chain (IAM role)
}

// GetProfile returns the AWS profile, honoring the environment override
// and never using a profile inside ECS/Lambda.
func (c AWSConfig) GetProfile() string {
	if env := os.Getenv("AWS_PROFILE_OVERRIDE"); env != "" {
		if env == "none" || env == "iam" {
			return ""
		}
		return env
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// TablesConfig names the DynamoDB tables backing the pipeline stores.
type TablesConfig struct {
	Campaigns     string `yaml:"campaigns"`
	Segments      string `yaml:"segments"`
	Events        string `yaml:"events"`
	TrackingLinks string `yaml:"tracking_links"`
}

// QueueConfig holds the SQS queue URLs.
type QueueConfig struct {
	SendQueueURL  string `yaml:"send_queue_url"`
	StartQueueURL string `yaml:"start_queue_url"`
}

// SESConfig holds the shared-infrastructure SES transport settings.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured send timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GmailConfig holds OAuth settings for the delegated-account transport.
type GmailConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RefreshToken   string `yaml:"refresh_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured send timeout as a duration.
func (c GmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrackingConfig holds the public tracking surface settings.
type TrackingConfig struct {
	// BaseURL is the public origin the delivery worker embeds in
	// tracked links and pixels, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`
	// FallbackURL is where unknown/expired click tokens redirect.
	FallbackURL string `yaml:"fallback_url"`
	// LogoBucket/LogoKey optionally name an S3 object served on the
	// open route instead of the inline pixel.
	LogoBucket string `yaml:"logo_bucket"`
	LogoKey    string `yaml:"logo_key"`
	// LinkTTLDays bounds tracking-link retention.
	LinkTTLDays int `yaml:"link_ttl_days"`
}

// ThrottleConfig holds the Redis-backed send rate limiter settings.
type ThrottleConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PerSecond     int    `yaml:"per_second"`
	PerMinute     int    `yaml:"per_minute"`
	PerDay        int    `yaml:"per_day"`
}

// DispatchConfig holds dispatcher tunables.
type DispatchConfig struct {
	// ChunkSize is the enqueue batch size; capped at the queue's
	// batch-enqueue limit of 10.
	ChunkSize           int `yaml:"chunk_size"`
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// TickInterval returns the scheduler tick interval as a duration.
func (c DispatchConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = cfg.AWS.Region
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Gmail.TimeoutSeconds == 0 {
		cfg.Gmail.TimeoutSeconds = 30
	}
	if cfg.Tracking.FallbackURL == "" {
		cfg.Tracking.FallbackURL = "https://thesentinel.site"
	}
	if cfg.Tracking.LinkTTLDays == 0 {
		cfg.Tracking.LinkTTLDays = 90
	}
	if cfg.Throttle.PerSecond == 0 {
		cfg.Throttle.PerSecond = 100
	}
	if cfg.Throttle.PerMinute == 0 {
		cfg.Throttle.PerMinute = 5000
	}
	if cfg.Throttle.PerDay == 0 {
		cfg.Throttle.PerDay = 1000000
	}
	if cfg.Dispatch.ChunkSize == 0 || cfg.Dispatch.ChunkSize > 10 {
		cfg.Dispatch.ChunkSize = 10
	}
	if cfg.Dispatch.TickIntervalSeconds == 0 {
		cfg.Dispatch.TickIntervalSeconds = 60
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first so secrets can live in .env
// locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("DYNAMODB_CAMPAIGNS_TABLE"); v != "" {
		cfg.Tables.Campaigns = v
	}
	if v := os.Getenv("DYNAMODB_SEGMENTS_TABLE"); v != "" {
		cfg.Tables.Segments = v
	}
	if v := os.Getenv("DYNAMODB_EVENTS_TABLE"); v != "" {
		cfg.Tables.Events = v
	}
	if v := os.Getenv("DYNAMODB_LINK_MAPPINGS_TABLE"); v != "" {
		cfg.Tables.TrackingLinks = v
	}
	if v := os.Getenv("SEND_QUEUE_URL"); v != "" {
		cfg.Queue.SendQueueURL = v
	}
	if v := os.Getenv("START_CAMPAIGN_QUEUE_URL"); v != "" {
		cfg.Queue.StartQueueURL = v
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
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REFRESH_TOKEN"); v != "" {
		cfg.Gmail.RefreshToken = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_FALLBACK_URL"); v != "" {
		cfg.Tracking.FallbackURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Throttle.RedisAddr = v
		cfg.Throttle.Enabled = true
	}

	return cfg, nil
}
