// Package config loads server settings from an optional TOML file
// (SPLITPAY_CONFIG) overlaid by SPLITPAY_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string `toml:"database_url"` // SPLITPAY_DATABASE_URL (empty = in-memory store)
	HTTPAddr    string `toml:"http_addr"`    // SPLITPAY_HTTP_ADDR (default ":8080")
	GRPCAddr    string `toml:"grpc_addr"`    // SPLITPAY_GRPC_ADDR (default ":9090"; empty = disabled)
	AuthToken   string `toml:"auth_token"`   // SPLITPAY_AUTH_TOKEN (optional, empty = auth disabled)

	// Processing
	Policy         string        `toml:"policy"`          // SPLITPAY_POLICY (strict | best_effort)
	ProgressEvents bool          `toml:"progress_events"` // SPLITPAY_PROGRESS_EVENTS
	SendTimeout    time.Duration `toml:"send_timeout"`    // SPLITPAY_SEND_TIMEOUT (default 2s)
	Serialize      string        `toml:"serialize"`       // SPLITPAY_SERIALIZE (none | local | redis)
	RedisURL       string        `toml:"redis_url"`       // SPLITPAY_REDIS_URL (required for redis)

	// Provider
	ProviderURL     string        `toml:"provider_url"`     // SPLITPAY_PROVIDER_URL (empty = sandbox)
	ProviderKey     string        `toml:"provider_key"`     // SPLITPAY_PROVIDER_KEY
	ProviderTimeout time.Duration `toml:"provider_timeout"` // SPLITPAY_PROVIDER_TIMEOUT (default 10s)

	// Status bus
	NATSURL      string   `toml:"nats_url"`      // SPLITPAY_NATS_URL (optional)
	KafkaBrokers []string `toml:"kafka_brokers"` // SPLITPAY_KAFKA_BROKERS (comma-separated)
	KafkaTopic   string   `toml:"kafka_topic"`   // SPLITPAY_KAFKA_TOPIC (default "payments.status")

	// Export
	ExportInterval   time.Duration `toml:"export_interval"`    // SPLITPAY_EXPORT_INTERVAL (0 = disabled)
	ExportS3Bucket   string        `toml:"export_s3_bucket"`   // SPLITPAY_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Key      string        `toml:"export_s3_key"`      // SPLITPAY_EXPORT_S3_KEY (default "payments/export.jsonl")
	ExportS3Region   string        `toml:"export_s3_region"`   // SPLITPAY_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Endpoint string        `toml:"export_s3_endpoint"` // SPLITPAY_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)

	// Logging
	LogFormat string     `toml:"log_format"` // SPLITPAY_LOG_FORMAT (text | json)
	LogLevel  slog.Level `toml:"log_level"`  // SPLITPAY_LOG_LEVEL (default info)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		Policy:          "strict",
		SendTimeout:     2 * time.Second,
		Serialize:       "none",
		ProviderTimeout: 10 * time.Second,
		KafkaTopic:      "payments.status",
		ExportS3Key:     "payments/export.jsonl",
		ExportS3Region:  "us-east-1",
		LogFormat:       "text",
		LogLevel:        slog.LevelInfo,
	}
}

// Load reads the file named by SPLITPAY_CONFIG, if any, and then applies
// environment overrides.
func Load() (*Config, error) {
	c := Default()
	if path := os.Getenv("SPLITPAY_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("SPLITPAY_CONFIG: %w", err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, "SPLITPAY_DATABASE_URL")
	setString(&c.HTTPAddr, "SPLITPAY_HTTP_ADDR")
	setString(&c.AuthToken, "SPLITPAY_AUTH_TOKEN")
	setString(&c.Policy, "SPLITPAY_POLICY")
	setString(&c.Serialize, "SPLITPAY_SERIALIZE")
	setString(&c.RedisURL, "SPLITPAY_REDIS_URL")
	setString(&c.ProviderURL, "SPLITPAY_PROVIDER_URL")
	setString(&c.ProviderKey, "SPLITPAY_PROVIDER_KEY")
	setString(&c.NATSURL, "SPLITPAY_NATS_URL")
	setString(&c.KafkaTopic, "SPLITPAY_KAFKA_TOPIC")
	setString(&c.ExportS3Bucket, "SPLITPAY_EXPORT_S3_BUCKET")
	setString(&c.ExportS3Key, "SPLITPAY_EXPORT_S3_KEY")
	setString(&c.ExportS3Region, "SPLITPAY_EXPORT_S3_REGION")
	setString(&c.ExportS3Endpoint, "SPLITPAY_EXPORT_S3_ENDPOINT")
	setString(&c.LogFormat, "SPLITPAY_LOG_FORMAT")

	// An explicitly empty gRPC address disables the listener.
	if v, ok := os.LookupEnv("SPLITPAY_GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}

	if v := os.Getenv("SPLITPAY_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}

	if v := os.Getenv("SPLITPAY_PROGRESS_EVENTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SPLITPAY_PROGRESS_EVENTS: %w", err)
		}
		c.ProgressEvents = b
	}

	for key, dst := range map[string]*time.Duration{
		"SPLITPAY_SEND_TIMEOUT":     &c.SendTimeout,
		"SPLITPAY_PROVIDER_TIMEOUT": &c.ProviderTimeout,
		"SPLITPAY_EXPORT_INTERVAL":  &c.ExportInterval,
	} {
		if err := setDuration(dst, key); err != nil {
			return err
		}
	}

	if v := os.Getenv("SPLITPAY_LOG_LEVEL"); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("SPLITPAY_LOG_LEVEL: %w", err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Policy {
	case "strict", "best_effort":
	default:
		return fmt.Errorf("policy: unknown value %q (want strict or best_effort)", c.Policy)
	}
	switch c.Serialize {
	case "none", "local":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("serialize: redis requires SPLITPAY_REDIS_URL")
		}
	default:
		return fmt.Errorf("serialize: unknown value %q (want none, local or redis)", c.Serialize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format: unknown value %q (want text or json)", c.LogFormat)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive, got %s", c.SendTimeout)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %s", c.ProviderTimeout)
	}
	if c.ExportInterval < 0 {
		return fmt.Errorf("export interval must not be negative, got %s", c.ExportInterval)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
