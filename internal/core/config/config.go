package config

import (
	"fmt"
	"strings"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Pipeline PipelineConfig `koanf:"pipeline"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// PipelineConfig holds every tunable the intake and dispatch paths read.
// The dispatcher reads these through a Provider at the start of each run so
// edits take effect without a restart.
type PipelineConfig struct {
	// TransmissionMethod selects the sink: cloudflare | ga4_direct | test_mode.
	TransmissionMethod string `koanf:"transmission_method"`

	CloudflareWorkerURL string `koanf:"cloudflare_worker_url"`
	GA4MeasurementID    string `koanf:"ga4_measurement_id"`
	GA4APISecret        string `koanf:"ga4_api_secret"`

	BatchSize    int `koanf:"batch_size"`
	RetryCeiling int `koanf:"retry_ceiling"`

	RetentionDays      int      `koanf:"retention_days"`
	PreserveEventNames []string `koanf:"preserve_event_names"`

	EncryptionEnabled bool   `koanf:"encryption_enabled"`
	EncryptionKey     string `koanf:"encryption_key"`

	// RateLimitPerMinute is per client IP, not global.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// VerboseLogging stores rejected submissions as monitor_status=error
	// records for later inspection.
	VerboseLogging bool `koanf:"verbose_logging"`

	// BotRulesDir optionally points at a directory of YAML bot signature
	// files; compiled-in defaults apply when empty.
	BotRulesDir string `koanf:"bot_rules_dir"`

	DispatchInterval string `koanf:"dispatch_interval"`
	LockTTL          string `koanf:"lock_ttl"`
	SinkTimeout      string `koanf:"sink_timeout"`
}

// Method returns the transmission method as the typed enum.
func (p PipelineConfig) Method() v1.TransmissionMethod {
	return v1.TransmissionMethod(p.TransmissionMethod)
}

// DispatchIntervalDuration parses the configured scheduler interval.
// Validate guarantees it parses, so errors here fall back to the default.
func (p PipelineConfig) DispatchIntervalDuration() time.Duration {
	return parseDurationOr(p.DispatchInterval, 5*time.Minute)
}

func (p PipelineConfig) LockTTLDuration() time.Duration {
	return parseDurationOr(p.LockTTL, 5*time.Minute)
}

func (p PipelineConfig) SinkTimeoutDuration() time.Duration {
	return parseDurationOr(p.SinkTimeout, 30*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	return c.Pipeline.Validate()
}

func (p PipelineConfig) Validate() error {
	switch p.Method() {
	case v1.TransmissionCloudflare:
		if strings.TrimSpace(p.CloudflareWorkerURL) == "" {
			return fmt.Errorf("pipeline.cloudflare_worker_url is required for the cloudflare method")
		}
	case v1.TransmissionGA4Direct:
		if strings.TrimSpace(p.GA4MeasurementID) == "" || strings.TrimSpace(p.GA4APISecret) == "" {
			return fmt.Errorf("pipeline.ga4_measurement_id and pipeline.ga4_api_secret are required for the ga4_direct method")
		}
	case v1.TransmissionTestMode:
		// No sink settings needed.
	default:
		return fmt.Errorf("unsupported pipeline.transmission_method %q", p.TransmissionMethod)
	}

	if p.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if p.RetryCeiling < 0 {
		return fmt.Errorf("pipeline.retry_ceiling must be >= 0")
	}
	if p.RetentionDays <= 0 {
		return fmt.Errorf("pipeline.retention_days must be > 0")
	}
	if p.RateLimitPerMinute <= 0 {
		return fmt.Errorf("pipeline.rate_limit_per_minute must be > 0")
	}
	if p.EncryptionEnabled && strings.TrimSpace(p.EncryptionKey) == "" {
		return fmt.Errorf("pipeline.encryption_key is required when encryption is enabled")
	}

	for key, raw := range map[string]string{
		"pipeline.dispatch_interval": p.DispatchInterval,
		"pipeline.lock_ttl":          p.LockTTL,
		"pipeline.sink_timeout":      p.SinkTimeout,
	} {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}

	return nil
}

// Load parses config from defaults + file + env, then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"database.dsn":                   "",
		"database.max_open_conns":        25,
		"database.max_idle_conns":        25,
		"database.auto_migrate":          true,
		"pipeline.transmission_method":   "test_mode",
		"pipeline.cloudflare_worker_url": "",
		"pipeline.ga4_measurement_id":    "",
		"pipeline.ga4_api_secret":        "",
		"pipeline.batch_size":            1000,
		"pipeline.retry_ceiling":         3,
		"pipeline.retention_days":        30,
		"pipeline.preserve_event_names":  []string{"purchase"},
		"pipeline.encryption_enabled":    false,
		"pipeline.encryption_key":        "",
		"pipeline.rate_limit_per_minute": 100,
		"pipeline.verbose_logging":       false,
		"pipeline.bot_rules_dir":         "",
		"pipeline.dispatch_interval":     "5m",
		"pipeline.lock_ttl":              "5m",
		"pipeline.sink_timeout":          "30s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("BEACON_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BEACON_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
