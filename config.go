package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RemoteBaseURL string `yaml:"remote_base_url"`
	RemoteAPIKey  string `yaml:"remote_api_key"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	DBPath string `yaml:"db_path"`

	PollIntervalSec int     `yaml:"poll_interval_seconds"`
	PollTimeoutSec  int     `yaml:"poll_timeout_seconds"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryBackoffMs  int     `yaml:"retry_backoff_ms"`
	MatchThreshold  float64 `yaml:"match_threshold"`
	MaxImageBytes   int     `yaml:"max_image_bytes"`
	MaxBatchSize    int     `yaml:"max_batch_size"`
	ResyncSchedule  string  `yaml:"resync_schedule"`
	Timezone        string  `yaml:"timezone"`
	EventName       string  `yaml:"event_name"`

	Location *time.Location `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.RemoteBaseURL, "REMOTE_BASE_URL")
	envOverride(&cfg.RemoteAPIKey, "REMOTE_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.PollIntervalSec, "POLL_INTERVAL_SECONDS")
	envOverrideInt(&cfg.PollTimeoutSec, "POLL_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.MaxRetries, "MAX_RETRIES")
	envOverrideInt(&cfg.RetryBackoffMs, "RETRY_BACKOFF_MS")
	envOverrideFloat(&cfg.MatchThreshold, "MATCH_THRESHOLD")
	envOverrideInt(&cfg.MaxImageBytes, "MAX_IMAGE_BYTES")
	envOverrideInt(&cfg.MaxBatchSize, "MAX_BATCH_SIZE")
	envOverride(&cfg.ResyncSchedule, "RESYNC_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.EventName, "EVENT_NAME")

	// Defaults
	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = defaultAnthropicModel
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./sheetsync.db"
	}
	if cfg.PollIntervalSec == 0 {
		cfg.PollIntervalSec = 30
	}
	if cfg.PollTimeoutSec == 0 {
		cfg.PollTimeoutSec = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffMs == 0 {
		cfg.RetryBackoffMs = 5000
	}
	if cfg.MatchThreshold == 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = 5 * 1024 * 1024
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 18
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.EventName == "" {
		cfg.EventName = "Cleanup Event"
	}

	// Validate required fields
	required := map[string]string{
		"remote_base_url":   cfg.RemoteBaseURL,
		"remote_api_key":    cfg.RemoteAPIKey,
		"anthropic_api_key": cfg.AnthropicAPIKey,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.PollIntervalSec < 1 {
		log.Fatalf("invalid poll_interval_seconds '%d': must be >= 1", cfg.PollIntervalSec)
	}
	if cfg.PollTimeoutSec < 1 {
		log.Fatalf("invalid poll_timeout_seconds '%d': must be >= 1", cfg.PollTimeoutSec)
	}
	if cfg.MaxRetries < 1 {
		log.Fatalf("invalid max_retries '%d': must be >= 1", cfg.MaxRetries)
	}
	if cfg.RetryBackoffMs < 100 {
		log.Fatalf("invalid retry_backoff_ms '%d': must be >= 100", cfg.RetryBackoffMs)
	}
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		log.Fatalf("invalid match_threshold '%f': must be in (0, 1]", cfg.MatchThreshold)
	}
	if cfg.MaxBatchSize < 1 {
		log.Fatalf("invalid max_batch_size '%d': must be >= 1", cfg.MaxBatchSize)
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannelID == "" {
		log.Fatalf("slack_channel_id is required when slack_bot_token is set")
	}

	return cfg
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSec) * time.Second
}

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
