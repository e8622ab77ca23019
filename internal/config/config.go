package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Store struct {
		Endpoint    string `yaml:"endpoint"`
		AccessKey   string `yaml:"access_key"`
		SecretKey   string `yaml:"secret_key"`
		UseSSL      bool   `yaml:"use_ssl"`
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
		WaitBucket  string `yaml:"wait_bucket"`
		NoisyBucket string `yaml:"noisy_bucket"`
	} `yaml:"store"`
	LabelStudio struct {
		URL          string `yaml:"url"`
		Token        string `yaml:"token"`
		ProjectTitle string `yaml:"project_title"`
	} `yaml:"label_studio"`
	Generation struct {
		URL string `yaml:"url"`
	} `yaml:"generation"`
	Triage struct {
		SampleSize             int     `yaml:"sample_size"`
		LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
		WindowMinutes          int     `yaml:"window_minutes"`
		Seed                   int64   `yaml:"seed"`
	} `yaml:"triage"`
	Waiter struct {
		MaxWaitMinutes      int `yaml:"max_wait_minutes"`
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"waiter"`
	Pipeline struct {
		DispatchSchedule string `yaml:"dispatch_schedule"`
		SyncSchedule     string `yaml:"sync_schedule"`
		RunLogPath       string `yaml:"run_log_path"`
	} `yaml:"pipeline"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Notify struct {
		Enabled          bool   `yaml:"enabled"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   int64  `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
}

// LoadConfig reads configuration from the specified YAML file, applies
// environment overrides for the deployment boundary variables and then
// fills in defaults for everything still unset.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	set := config.applyEnv()
	config.applyDefaults(set)
	return config, nil
}

// envSet records which numeric knobs the environment set explicitly, so a
// deliberate zero (immediate waiter timeout, empty sample) is not mistaken
// for an unset field.
type envSet struct {
	sampleSize    bool
	lowConfidence bool
	maxWait       bool
}

func (c *Config) applyDefaults(set envSet) {
	if c.Store.Bucket == "" {
		c.Store.Bucket = "production"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "conversation_logs/"
	}
	if c.Store.WaitBucket == "" {
		c.Store.WaitBucket = c.Store.Bucket + "-label-wait"
	}
	if c.Store.NoisyBucket == "" {
		c.Store.NoisyBucket = c.Store.Bucket + "-noisy"
	}
	if c.LabelStudio.ProjectTitle == "" {
		c.LabelStudio.ProjectTitle = "LLM Doctor Review"
	}
	if c.Triage.SampleSize == 0 && !set.sampleSize {
		c.Triage.SampleSize = 5
	}
	if c.Triage.LowConfidenceThreshold == 0 && !set.lowConfidence {
		c.Triage.LowConfidenceThreshold = 0.7
	}
	if c.Triage.WindowMinutes == 0 {
		c.Triage.WindowMinutes = 30
	}
	if c.Waiter.MaxWaitMinutes == 0 && !set.maxWait {
		c.Waiter.MaxWaitMinutes = 60
	}
	if c.Waiter.PollIntervalSeconds == 0 {
		c.Waiter.PollIntervalSeconds = 30
	}
	if c.Pipeline.DispatchSchedule == "" {
		c.Pipeline.DispatchSchedule = "*/5 * * * *"
	}
	if c.Pipeline.SyncSchedule == "" {
		c.Pipeline.SyncSchedule = "*/5 * * * *"
	}
	if c.Pipeline.RunLogPath == "" {
		c.Pipeline.RunLogPath = "reviewloop.db"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
}

// applyEnv overrides file values with the environment variables the
// deployment already exposes to the rest of the stack.
func (c *Config) applyEnv() envSet {
	var set envSet
	if v := os.Getenv("MINIO_URL"); v != "" {
		c.Store.Endpoint, c.Store.UseSSL = splitEndpoint(v)
	}
	if v := os.Getenv("MINIO_USER"); v != "" {
		c.Store.AccessKey = v
	}
	if v := os.Getenv("MINIO_PASSWORD"); v != "" {
		c.Store.SecretKey = v
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		c.Store.Bucket = v
	}
	if v := os.Getenv("LABEL_STUDIO_URL"); v != "" {
		c.LabelStudio.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("LABEL_STUDIO_USER_TOKEN"); v != "" {
		c.LabelStudio.Token = v
	}
	if v := os.Getenv("SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Triage.SampleSize = n
			set.sampleSize = true
		}
	}
	if v := os.Getenv("LOW_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Triage.LowConfidenceThreshold = f
			set.lowConfidence = true
		}
	}
	if v := os.Getenv("MAX_WAIT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Waiter.MaxWaitMinutes = n
			set.maxWait = true
		}
	}
	return set
}

// splitEndpoint accepts either "host:port" or a URL with scheme, the form
// the MINIO_URL variable historically used.
func splitEndpoint(raw string) (endpoint string, useSSL bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), true
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), false
	default:
		return raw, false
	}
}
