// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int      `mapstructure:"shutdown_grace_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CaptureConfig holds default capture options and primary engine settings.
type CaptureConfig struct {
	Width               int     `mapstructure:"width"`
	Height              int     `mapstructure:"height"`
	FullPage            bool    `mapstructure:"full_page"`
	Quality             int     `mapstructure:"quality"`
	DeviceScale         float64 `mapstructure:"device_scale"`
	UserAgent           string  `mapstructure:"user_agent"`
	NavigationTimeoutMs int     `mapstructure:"navigation_timeout_ms"`
	SettleDelayMs       int     `mapstructure:"settle_delay_ms"`
	ChromePath          string  `mapstructure:"chrome_path"`
}

// FallbackConfig configures the external rendering service.
type FallbackConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	APIKey           string `mapstructure:"api_key"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxDownloadBytes int    `mapstructure:"max_download_bytes"`
}

// AssetsConfig selects and tunes the asset store backend.
type AssetsConfig struct {
	Backend        string `mapstructure:"backend"`
	Folder         string `mapstructure:"folder"`
	Bucket         string `mapstructure:"bucket"`
	LocalDir       string `mapstructure:"local_dir"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	PreviewBaseURL string `mapstructure:"preview_base_url"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig controls the optional capture log.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Asset store backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGESNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.full_page", true)
	v.SetDefault("capture.quality", 90)
	v.SetDefault("capture.device_scale", 2.0)
	v.SetDefault("capture.user_agent", "")
	v.SetDefault("capture.navigation_timeout_ms", 30000)
	v.SetDefault("capture.settle_delay_ms", 2000)
	v.SetDefault("capture.chrome_path", "")
	v.SetDefault("fallback.endpoint", "")
	v.SetDefault("fallback.api_key", "")
	v.SetDefault("fallback.timeout_seconds", 60)
	v.SetDefault("fallback.max_download_bytes", 20<<20)
	v.SetDefault("assets.backend", BackendMemory)
	v.SetDefault("assets.folder", "screenshots")
	v.SetDefault("assets.bucket", "")
	v.SetDefault("assets.local_dir", "./data/assets")
	v.SetDefault("assets.public_base_url", "")
	v.SetDefault("assets.preview_base_url", "")
	v.SetDefault("assets.max_upload_bytes", 20<<20)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "captures")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_seconds", 1800)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture.width and capture.height must be > 0")
	}
	if c.Capture.Quality < 0 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be between 0 and 100")
	}
	if c.Capture.NavigationTimeoutMs <= 0 {
		return fmt.Errorf("capture.navigation_timeout_ms must be > 0")
	}
	if c.Capture.SettleDelayMs < 0 {
		return fmt.Errorf("capture.settle_delay_ms must be >= 0")
	}
	if c.Fallback.Endpoint != "" {
		u, err := url.Parse(c.Fallback.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("fallback.endpoint must be an absolute http(s) URL")
		}
	}
	switch c.Assets.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Assets.LocalDir == "" {
			return fmt.Errorf("assets.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Assets.Bucket == "" {
			return fmt.Errorf("assets.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("assets.backend must be one of memory, local, gcs (got %q)", c.Assets.Backend)
	}
	if c.Assets.MaxUploadBytes <= 0 {
		return fmt.Errorf("assets.max_upload_bytes must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout is the overall budget for one HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// NavigationTimeout is the primary engine's navigation budget.
func (c CaptureConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SettleDelay is the pause between network idle and the screenshot.
func (c CaptureConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Timeout is the fallback service budget.
func (c FallbackConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether both the endpoint and the API key are set. The
// fallback engine runs either way; without both it fails with a missing
// credential error.
func (c FallbackConfig) Configured() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.APIKey) != ""
}
