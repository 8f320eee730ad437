package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
tables:
  campaigns: campaigns
  events: email_events
queue:
  send_queue_url: https://sqs.us-east-1.amazonaws.com/123/send
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, 30*time.Second, cfg.SES.Timeout())
	assert.Equal(t, "https://thesentinel.site", cfg.Tracking.FallbackURL)
	assert.Equal(t, 90, cfg.Tracking.LinkTTLDays)
	assert.Equal(t, 100, cfg.Throttle.PerSecond)
	assert.Equal(t, 5000, cfg.Throttle.PerMinute)
	assert.Equal(t, 1000000, cfg.Throttle.PerDay)
	assert.Equal(t, 10, cfg.Dispatch.ChunkSize)
	assert.Equal(t, time.Minute, cfg.Dispatch.TickInterval())

	assert.Equal(t, "campaigns", cfg.Tables.Campaigns)
	assert.Equal(t, "email_events", cfg.Tables.Events)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/send", cfg.Queue.SendQueueURL)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: 127.0.0.1
aws:
  region: eu-west-1
ses:
  region: us-west-2
  timeout_seconds: 5
throttle:
  enabled: true
  redis_addr: localhost:6379
  per_second: 10
dispatch:
  chunk_size: 5
  tick_interval_seconds: 15
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, 5*time.Second, cfg.SES.Timeout())
	assert.True(t, cfg.Throttle.Enabled)
	assert.Equal(t, 10, cfg.Throttle.PerSecond)
	assert.Equal(t, 5, cfg.Dispatch.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.TickInterval())
}

func TestLoadCapsChunkSizeAtBatchLimit(t *testing.T) {
	path := writeConfig(t, `
dispatch:
  chunk_size: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Dispatch.ChunkSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "tables: [not: a: map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
aws:
  region: us-east-1
tables:
  campaigns: campaigns
`)

	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("DYNAMODB_CAMPAIGNS_TABLE", "campaigns_prod")
	t.Setenv("DYNAMODB_EVENTS_TABLE", "email_events_prod")
	t.Setenv("SEND_QUEUE_URL", "https://sqs.eu-central-1.amazonaws.com/123/send")
	t.Setenv("TRACKING_BASE_URL", "https://track.example.com")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", cfg.AWS.Region)
	assert.Equal(t, "campaigns_prod", cfg.Tables.Campaigns)
	assert.Equal(t, "email_events_prod", cfg.Tables.Events)
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/123/send", cfg.Queue.SendQueueURL)
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
	assert.Equal(t, "redis:6379", cfg.Throttle.RedisAddr)
	assert.True(t, cfg.Throttle.Enabled, "REDIS_ADDR implies throttling on")
}

func TestGetProfile(t *testing.T) {
	cfg := AWSConfig{Profile: "dev"}

	assert.Equal(t, "dev", cfg.GetProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "staging")
	assert.Equal(t, "staging", cfg.GetProfile())

	t.Setenv("AWS_PROFILE_OVERRIDE", "iam")
	assert.Equal(t, "", cfg.GetProfile(), "iam override forces the role credential chain")

	t.Setenv("AWS_PROFILE_OVERRIDE", "")
	t.Setenv("AWS_EXECUTION_ENV", "AWS_ECS_FARGATE")
	assert.Equal(t, "", cfg.GetProfile(), "profiles never apply inside ECS")
}

func TestGetHost(t *testing.T) {
	cfg := ServerConfig{Host: "localhost"}
	assert.Equal(t, "localhost", cfg.GetHost())

	t.Setenv("SERVER_HOST", "10.0.0.5")
	assert.Equal(t, "10.0.0.5", cfg.GetHost())

	t.Setenv("ECS_CONTAINER_METADATA_URI", "http://169.254.170.2/v3")
	assert.Equal(t, "0.0.0.0", cfg.GetHost())
}
