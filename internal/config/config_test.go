package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 1 || cfg.Server.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected default CORS origins: %v", cfg.Server.CORSAllowedOrigins)
	}
	if cfg.Capture.Width != 1920 || cfg.Capture.Height != 1080 || !cfg.Capture.FullPage || cfg.Capture.Quality != 90 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Assets.Backend != BackendMemory || cfg.Assets.Folder != "screenshots" {
		t.Fatalf("unexpected asset defaults: %+v", cfg.Assets)
	}
	if cfg.Assets.MaxUploadBytes != 20<<20 {
		t.Fatalf("expected 20MiB upload cap, got %d", cfg.Assets.MaxUploadBytes)
	}
	if got := cfg.RequestTimeout(); got != 120*time.Second {
		t.Fatalf("expected 120s request timeout, got %v", got)
	}
	if got := cfg.Capture.NavigationTimeout(); got != 30*time.Second {
		t.Fatalf("expected 30s navigation timeout, got %v", got)
	}
	if got := cfg.Capture.SettleDelay(); got != 2*time.Second {
		t.Fatalf("expected 2s settle delay, got %v", got)
	}
	if cfg.Fallback.Configured() {
		t.Fatal("expected fallback to be unconfigured without an endpoint and key")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_allowed_origins: ["https://app.example.com", "https://admin.example.com"]
  request_timeout_seconds: 60
logging:
  development: false
  level: debug
capture:
  width: 1280
  height: 720
  full_page: false
  quality: 50
  navigation_timeout_ms: 10000
  settle_delay_ms: 0
  chrome_path: /usr/bin/chromium
fallback:
  endpoint: https://render.example.com/v1/screenshot
  api_key: secret
  timeout_seconds: 30
assets:
  backend: gcs
  bucket: shots
  folder: captures
  preview_base_url: https://imgix.example.com
database:
  dsn: postgres://localhost/pagesnap
  table: capture_log
pubsub:
  project_id: proj
  topic_name: captures
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || len(cfg.Server.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Capture.Width != 1280 || cfg.Capture.FullPage || cfg.Capture.SettleDelay() != 0 {
		t.Fatalf("expected capture overrides to apply: %+v", cfg.Capture)
	}
	if !cfg.Fallback.Configured() || cfg.Fallback.APIKey != "secret" || cfg.Fallback.Timeout() != 30*time.Second {
		t.Fatalf("expected fallback overrides to apply: %+v", cfg.Fallback)
	}
	if cfg.Assets.Backend != BackendGCS || cfg.Assets.Bucket != "shots" || cfg.Assets.Folder != "captures" {
		t.Fatalf("expected asset overrides to apply: %+v", cfg.Assets)
	}
	if cfg.Database.Table != "capture_log" || cfg.PubSub.TopicName != "captures" {
		t.Fatalf("expected database and pubsub overrides to apply")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAGESNAP_SERVER_PORT", "7070")
	t.Setenv("PAGESNAP_FALLBACK_API_KEY", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Fallback.APIKey != "from-env" {
		t.Fatalf("expected env api key, got %q", cfg.Fallback.APIKey)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080, RequestTimeoutSeconds: 120},
		Capture: CaptureConfig{Width: 1920, Height: 1080, Quality: 90, NavigationTimeoutMs: 30000},
		Assets:  AssetsConfig{Backend: BackendMemory, MaxUploadBytes: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid request timeout", mutate: func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, want: "server.request_timeout_seconds"},
		{name: "invalid width", mutate: func(c *Config) { c.Capture.Width = -1 }, want: "capture.width"},
		{name: "invalid quality", mutate: func(c *Config) { c.Capture.Quality = 101 }, want: "capture.quality"},
		{name: "invalid nav timeout", mutate: func(c *Config) { c.Capture.NavigationTimeoutMs = 0 }, want: "capture.navigation_timeout_ms"},
		{name: "negative settle", mutate: func(c *Config) { c.Capture.SettleDelayMs = -1 }, want: "capture.settle_delay_ms"},
		{name: "relative endpoint", mutate: func(c *Config) { c.Fallback.Endpoint = "/render" }, want: "fallback.endpoint"},
		{name: "unknown backend", mutate: func(c *Config) { c.Assets.Backend = "s3" }, want: "assets.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Assets.Backend = BackendGCS }, want: "assets.bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Assets.Backend = BackendLocal }, want: "assets.local_dir"},
		{name: "no upload cap", mutate: func(c *Config) { c.Assets.MaxUploadBytes = 0 }, want: "assets.max_upload_bytes"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFallbackConfiguredNeedsEndpointAndKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  FallbackConfig
		want bool
	}{
		{name: "empty", cfg: FallbackConfig{}, want: false},
		{name: "endpoint only", cfg: FallbackConfig{Endpoint: "https://render.example.com"}, want: false},
		{name: "key only", cfg: FallbackConfig{APIKey: "secret"}, want: false},
		{name: "both", cfg: FallbackConfig{Endpoint: "https://render.example.com", APIKey: "secret"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.Configured(); got != tc.want {
				t.Fatalf("Configured() = %v, want %v", got, tc.want)
			}
		})
	}
}
