package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
)

// Config holds all runner configuration.
type Config struct {
	Log          LogConfig
	Browser      BrowserConfig
	Orchestrator OrchestratorConfig
	Storage      StorageConfig
	Events       EventsConfig
	Metrics      MetricsConfig
	Tracing      TracingConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// BrowserConfig holds the browser defaults a scenario starts from.
type BrowserConfig struct {
	ExecPath          string
	Headless          bool
	SlowMo            time.Duration
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	UserAgent         string
	Proxy             string
}

// OrchestratorConfig holds session admission and retention settings.
type OrchestratorConfig struct {
	MaxConcurrentSessions int
	Retention             time.Duration
	CleanupInterval       time.Duration
	WarmupDelay           time.Duration
}

// StorageConfig holds screenshot storage configuration.
type StorageConfig struct {
	Type            string // "none", "local" or "s3"
	BaseDir         string // For local: "./screenshots"
	S3Bucket        string
	S3Region        string
	S3Endpoint      string // For S3-compatible stores such as MinIO
	S3PresignExpiry time.Duration
}

// EventsConfig holds event fan-out configuration.
type EventsConfig struct {
	NATSURL          string // empty disables NATS publishing
	SubscriberBuffer int
	PublishTimeout   time.Duration
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string // empty disables the endpoint
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled bool
}

// Options returns the scenario options every scenario file is decoded on top of.
func (b BrowserConfig) Options() scenario.Options {
	opts := scenario.DefaultOptions()
	opts.Headless = b.Headless
	opts.SlowMo = b.SlowMo
	opts.Viewport = scenario.Viewport{Width: b.ViewportWidth, Height: b.ViewportHeight}
	opts.NavigationTimeout = b.NavigationTimeout
	opts.ActionTimeout = b.ActionTimeout
	opts.UserAgent = b.UserAgent
	opts.Proxy = b.Proxy
	return opts.WithDefaults()
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("runner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Enable environment variable overrides, e.g. BROWSER_HEADLESS=false
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.slow_mo", "0s")
	v.SetDefault("browser.viewport_width", scenario.DefaultViewportWidth)
	v.SetDefault("browser.viewport_height", scenario.DefaultViewportHeight)
	v.SetDefault("browser.navigation_timeout", scenario.DefaultNavigationTimeout.String())
	v.SetDefault("browser.action_timeout", scenario.DefaultActionTimeout.String())
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.proxy", "")

	v.SetDefault("orchestrator.max_concurrent_sessions", 4)
	v.SetDefault("orchestrator.retention", "15m")
	v.SetDefault("orchestrator.cleanup_interval", "1m")
	v.SetDefault("orchestrator.warmup_delay", "1s")

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.base_dir", "./screenshots")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.s3_presign_expiry", "15m")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subscriber_buffer", 64)
	v.SetDefault("events.publish_timeout", "100ms")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults
	}

	var config Config

	config.Log.Level = v.GetString("log.level")
	config.Log.File = v.GetString("log.file")
	config.Log.MaxSizeMB = v.GetInt("log.max_size_mb")
	config.Log.MaxBackups = v.GetInt("log.max_backups")
	config.Log.MaxAgeDays = v.GetInt("log.max_age_days")

	config.Browser.ExecPath = v.GetString("browser.exec_path")
	config.Browser.Headless = v.GetBool("browser.headless")
	config.Browser.SlowMo = v.GetDuration("browser.slow_mo")
	config.Browser.ViewportWidth = v.GetInt("browser.viewport_width")
	config.Browser.ViewportHeight = v.GetInt("browser.viewport_height")
	config.Browser.NavigationTimeout = v.GetDuration("browser.navigation_timeout")
	config.Browser.ActionTimeout = v.GetDuration("browser.action_timeout")
	config.Browser.UserAgent = v.GetString("browser.user_agent")
	config.Browser.Proxy = v.GetString("browser.proxy")

	config.Orchestrator.MaxConcurrentSessions = v.GetInt("orchestrator.max_concurrent_sessions")
	config.Orchestrator.Retention = v.GetDuration("orchestrator.retention")
	config.Orchestrator.CleanupInterval = v.GetDuration("orchestrator.cleanup_interval")
	config.Orchestrator.WarmupDelay = v.GetDuration("orchestrator.warmup_delay")

	config.Storage.Type = v.GetString("storage.type")
	config.Storage.BaseDir = v.GetString("storage.base_dir")
	config.Storage.S3Bucket = v.GetString("storage.s3_bucket")
	config.Storage.S3Region = v.GetString("storage.s3_region")
	config.Storage.S3Endpoint = v.GetString("storage.s3_endpoint")
	config.Storage.S3PresignExpiry = v.GetDuration("storage.s3_presign_expiry")

	config.Events.NATSURL = v.GetString("events.nats_url")
	config.Events.SubscriberBuffer = v.GetInt("events.subscriber_buffer")
	config.Events.PublishTimeout = v.GetDuration("events.publish_timeout")

	config.Metrics.Addr = v.GetString("metrics.addr")
	config.Tracing.Enabled = v.GetBool("tracing.enabled")

	return &config, nil
}
