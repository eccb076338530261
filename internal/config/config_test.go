package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxBytes != 5_120_000 {
		t.Fatalf("expected max bytes 5120000, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Upload.ContentType != "text/csv" {
		t.Fatalf("expected text/csv, got %q", cfg.Upload.ContentType)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("expected permissive CORS, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Progress.PongTimeout != time.Minute {
		t.Fatalf("expected pong timeout 1m, got %v", cfg.Progress.PongTimeout)
	}
	if cfg.PubSub.Enabled() {
		t.Fatal("expected pubsub disabled by default")
	}
	if cfg.Addr() != ":3000" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 5s
upload:
  max_bytes: 1024
  read_timeout: 2s
storage:
  backend: sqlite
database:
  sqlite_path: /tmp/records.db
  max_conns: 4
pubsub:
  project_id: proj
  topic_name: records
progress:
  send_buffer: 32
  log_enabled: true
rate_limit:
  enabled: true
  rps: 2.5
  burst: 3
cors:
  allowed_origins: ["https://app.example.com"]
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 5*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Upload.MaxBytes != 1024 || cfg.Upload.ReadTimeout != 2*time.Second {
		t.Fatalf("expected upload overrides, got %+v", cfg.Upload)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Database.SQLitePath != "/tmp/records.db" {
		t.Fatalf("expected sqlite backend, got %+v %+v", cfg.Storage, cfg.Database)
	}
	if cfg.Database.MaxConns != 4 {
		t.Fatalf("expected max conns 4, got %d", cfg.Database.MaxConns)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatal("expected pubsub enabled")
	}
	if cfg.Progress.SendBuffer != 32 || !cfg.Progress.LogEnabled {
		t.Fatalf("expected progress overrides, got %+v", cfg.Progress)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 3 {
		t.Fatalf("expected rate limit overrides, got %+v", cfg.RateLimit)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("expected cors override, got %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
}

func TestLoadPortFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "4000")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("expected PORT override 4000, got %d", cfg.Server.Port)
	}

	t.Setenv("CSVINGEST_SERVER_PORT", "5000")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("expected prefixed override 5000, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CSVINGEST_STORAGE_BACKEND", "local")
	t.Setenv("CSVINGEST_STORAGE_LOCAL_BASE_DIR", "/var/lib/records")
	t.Setenv("CSVINGEST_UPLOAD_MAX_BYTES", "2048")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendLocal || cfg.Storage.Local.BaseDir != "/var/lib/records" {
		t.Fatalf("expected local backend from env, got %+v", cfg.Storage)
	}
	if cfg.Upload.MaxBytes != 2048 {
		t.Fatalf("expected max bytes 2048, got %d", cfg.Upload.MaxBytes)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080, RequestTimeout: time.Second},
		Upload:   UploadConfig{MaxBytes: 10, ContentType: "text/csv"},
		Storage:  StorageConfig{Backend: BackendMemory},
		Progress: ProgressConfig{SendBuffer: 1},
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
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "server.port"},
		{name: "request timeout", mutate: func(c *Config) { c.Server.RequestTimeout = 0 }, want: "server.request_timeout"},
		{name: "max bytes", mutate: func(c *Config) { c.Upload.MaxBytes = 0 }, want: "upload.max_bytes"},
		{name: "content type", mutate: func(c *Config) { c.Upload.ContentType = " " }, want: "upload.content_type"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "storage.backend"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = BackendLocal }, want: "storage.local.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs.bucket"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "database.dsn"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Backend = BackendSQLite }, want: "database.sqlite_path"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub"},
		{name: "send buffer", mutate: func(c *Config) { c.Progress.SendBuffer = 0 }, want: "progress.send_buffer"},
		{
			name:   "rate limit without rps",
			mutate: func(c *Config) { c.RateLimit.Enabled = true },
			want:   "rate_limit.rps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
