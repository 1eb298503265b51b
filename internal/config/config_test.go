package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// allEnvVars lists every variable Load reads; they are cleared between tests.
var allEnvVars = []string{
	"SPLITPAY_CONFIG", "SPLITPAY_DATABASE_URL", "SPLITPAY_HTTP_ADDR", "SPLITPAY_AUTH_TOKEN",
	"SPLITPAY_POLICY", "SPLITPAY_PROGRESS_EVENTS", "SPLITPAY_SEND_TIMEOUT", "SPLITPAY_SERIALIZE",
	"SPLITPAY_REDIS_URL", "SPLITPAY_PROVIDER_URL", "SPLITPAY_PROVIDER_KEY", "SPLITPAY_PROVIDER_TIMEOUT",
	"SPLITPAY_NATS_URL", "SPLITPAY_KAFKA_BROKERS", "SPLITPAY_KAFKA_TOPIC", "SPLITPAY_EXPORT_INTERVAL",
	"SPLITPAY_EXPORT_S3_BUCKET", "SPLITPAY_EXPORT_S3_KEY", "SPLITPAY_EXPORT_S3_REGION",
	"SPLITPAY_EXPORT_S3_ENDPOINT", "SPLITPAY_LOG_FORMAT", "SPLITPAY_LOG_LEVEL",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
	// An empty SPLITPAY_GRPC_ADDR disables gRPC, so it must be truly unset.
	t.Setenv("SPLITPAY_GRPC_ADDR", "")
	os.Unsetenv("SPLITPAY_GRPC_ADDR")
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Fatalf("expected defaults, got %+v", c)
	}
	if c.DatabaseURL != "" {
		t.Errorf("expected empty database URL (in-memory store), got %q", c.DatabaseURL)
	}
	if c.GRPCAddr != ":9090" || c.HTTPAddr != ":8080" {
		t.Errorf("unexpected addresses: grpc=%q http=%q", c.GRPCAddr, c.HTTPAddr)
	}
}

func TestLoad_Env(t *testing.T) {
	clearAllEnv(t)
	env := map[string]string{
		"SPLITPAY_DATABASE_URL":     "postgres://db:5432/splitpay",
		"SPLITPAY_HTTP_ADDR":        ":3000",
		"SPLITPAY_GRPC_ADDR":        ":5050",
		"SPLITPAY_POLICY":           "best_effort",
		"SPLITPAY_PROGRESS_EVENTS":  "true",
		"SPLITPAY_SEND_TIMEOUT":     "500ms",
		"SPLITPAY_SERIALIZE":        "redis",
		"SPLITPAY_REDIS_URL":        "redis://localhost:6379/0",
		"SPLITPAY_PROVIDER_TIMEOUT": "3s",
		"SPLITPAY_KAFKA_BROKERS":    "k1:9092, k2:9092,",
		"SPLITPAY_EXPORT_INTERVAL":  "5m",
		"SPLITPAY_LOG_FORMAT":       "json",
		"SPLITPAY_LOG_LEVEL":        "debug",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DatabaseURL != "postgres://db:5432/splitpay" || c.HTTPAddr != ":3000" || c.GRPCAddr != ":5050" {
		t.Errorf("unexpected connection settings: %+v", c)
	}
	if c.Policy != "best_effort" || !c.ProgressEvents {
		t.Errorf("unexpected processing settings: policy=%q progress=%v", c.Policy, c.ProgressEvents)
	}
	if c.SendTimeout != 500*time.Millisecond || c.ProviderTimeout != 3*time.Second || c.ExportInterval != 5*time.Minute {
		t.Errorf("unexpected durations: send=%s provider=%s export=%s", c.SendTimeout, c.ProviderTimeout, c.ExportInterval)
	}
	if !reflect.DeepEqual(c.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers: %q", c.KafkaBrokers)
	}
	if c.LogFormat != "json" || c.LogLevel != slog.LevelDebug {
		t.Errorf("unexpected logging: format=%q level=%s", c.LogFormat, c.LogLevel)
	}
}

func TestLoad_EmptyGRPCAddrDisables(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("SPLITPAY_GRPC_ADDR", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.GRPCAddr != "" {
		t.Fatalf("expected gRPC disabled, got %q", c.GRPCAddr)
	}
}

func TestLoad_File(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "splitpay.toml")
	data := `
database_url = "postgres://file/splitpay"
policy = "best_effort"
send_timeout = "750ms"
kafka_brokers = ["a:9092", "b:9092"]
export_interval = "1h"
export_s3_bucket = "exports"
log_level = "warn"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPLITPAY_CONFIG", path)
	// Environment wins over the file.
	t.Setenv("SPLITPAY_POLICY", "strict")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DatabaseURL != "postgres://file/splitpay" {
		t.Errorf("expected file database URL, got %q", c.DatabaseURL)
	}
	if c.Policy != "strict" {
		t.Errorf("expected env policy to override file, got %q", c.Policy)
	}
	if c.SendTimeout != 750*time.Millisecond || c.ExportInterval != time.Hour {
		t.Errorf("unexpected durations: send=%s export=%s", c.SendTimeout, c.ExportInterval)
	}
	if len(c.KafkaBrokers) != 2 || c.ExportS3Bucket != "exports" {
		t.Errorf("unexpected file values: %+v", c)
	}
	if c.LogLevel != slog.LevelWarn {
		t.Errorf("expected warn level, got %s", c.LogLevel)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("expected default HTTP addr to survive, got %q", c.HTTPAddr)
	}
}

func TestLoad_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{"UnknownPolicy", map[string]string{"SPLITPAY_POLICY": "yolo"}},
		{"UnknownSerialize", map[string]string{"SPLITPAY_SERIALIZE": "global"}},
		{"RedisWithoutURL", map[string]string{"SPLITPAY_SERIALIZE": "redis"}},
		{"BadSendTimeout", map[string]string{"SPLITPAY_SEND_TIMEOUT": "soon"}},
		{"ZeroSendTimeout", map[string]string{"SPLITPAY_SEND_TIMEOUT": "0s"}},
		{"NegativeExportInterval", map[string]string{"SPLITPAY_EXPORT_INTERVAL": "-1m"}},
		{"BadProgressFlag", map[string]string{"SPLITPAY_PROGRESS_EVENTS": "sometimes"}},
		{"BadLogLevel", map[string]string{"SPLITPAY_LOG_LEVEL": "loud"}},
		{"BadLogFormat", map[string]string{"SPLITPAY_LOG_FORMAT": "xml"}},
		{"MissingFile", map[string]string{"SPLITPAY_CONFIG": "/nonexistent/splitpay.toml"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
