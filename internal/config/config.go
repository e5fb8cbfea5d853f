// Package config loads the logging runtime's declarative configuration
// from YAML with LOGCORE_-prefixed environment variable overrides,
// validates it, and (via Watcher) hot-reloads the scrub/rate-limit
// sections on file change. Structure and env-override style are adapted
// from the teacher's internal/config/config.go; unlike the teacher, a
// malformed override never falls back silently — spec.md §6 requires
// parse errors to surface InvalidConfiguration at init.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ssw-oss/logcore/pkg/levels"
	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

// GraylogConfig configures the optional remote aggregator sink.
type GraylogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // "tcp", "udp", or "kafka"
	TLS      bool   `yaml:"tls"`
	Compress bool   `yaml:"compress"`
}

// QueueConfig configures internal/queueworker.
type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxSize     int           `yaml:"maxsize"`
	FullPolicy  string        `yaml:"full_policy"` // "block" or "drop"
	PutTimeout  time.Duration `yaml:"put_timeout"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// ConsoleConfig configures the terminal sink's presentation.
type ConsoleConfig struct {
	ForceColor     bool              `yaml:"force_color"`
	NoColor        bool              `yaml:"no_color"`
	Theme          string            `yaml:"theme"`
	Styles         map[string]string `yaml:"styles"`
	FormatPreset   string            `yaml:"format_preset"`
	FormatTemplate string            `yaml:"format_template"`
}

// PayloadLimits mirrors pkg/sanitize.Limits in its YAML-facing form.
type PayloadLimits struct {
	MessageMaxChars      int  `yaml:"message_max_chars"`
	TruncateMessage      bool `yaml:"truncate_message"`
	ExtraMaxKeys         int  `yaml:"extra_max_keys"`
	ExtraMaxValueChars   int  `yaml:"extra_max_value_chars"`
	ExtraMaxDepth        int  `yaml:"extra_max_depth"`
	ExtraMaxTotalBytes   int  `yaml:"extra_max_total_bytes"`
	ContextMaxKeys       int  `yaml:"context_max_keys"`
	ContextMaxValueChars int  `yaml:"context_max_value_chars"`
	StacktraceMaxFrames  int  `yaml:"stacktrace_max_frames"`
}

// RateLimitConfig configures pkg/ratelimit.
type RateLimitConfig struct {
	MaxEvents int           `yaml:"max_events"`
	Window    time.Duration `yaml:"window"`
}

// AdminConfig configures the optional admin HTTP surface
// (/healthz, /inspect, /dump, /metrics). Off by default.
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// TracingConfig configures the OpenTelemetry bridge. Off by default.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Exporter     string            `yaml:"exporter"` // "jaeger", "otlp", or "console"
	Endpoint     string            `yaml:"endpoint"`
	SampleRate   float64           `yaml:"sample_rate"`
	BatchTimeout time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize int               `yaml:"max_batch_size"`
	Headers      map[string]string `yaml:"headers"`
}

// KafkaConfig configures the supplementary Kafka sink, selected by
// graylog.protocol = "kafka" instead of tcp/udp.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	Compression     string        `yaml:"compression"`
	BatchSize       int           `yaml:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
	RetryMax        int           `yaml:"retry_max"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	QueueSize       int           `yaml:"queue_size"`
	AuthEnabled     bool          `yaml:"auth_enabled"`
	AuthUsername    string        `yaml:"auth_username"`
	AuthPassword    string        `yaml:"auth_password"`
	AuthMechanism   string        `yaml:"auth_mechanism"` // "plain", "scram-sha-256", "scram-sha-512"
}

// Config is the full declarative configuration for the logging runtime,
// covering spec.md §6's enumerated runtime configuration options.
type Config struct {
	Service     string `yaml:"service"`
	Environment string `yaml:"environment"`

	ConsoleLevel string `yaml:"console_level"`
	BackendLevel string `yaml:"backend_level"`
	GraylogLevel string `yaml:"graylog_level"`

	EnableRingBuffer         bool   `yaml:"enable_ring_buffer"`
	RingBufferSize           int    `yaml:"ring_buffer_size"`
	RingBufferCheckpointPath string `yaml:"ring_buffer_checkpoint_path"`

	EnableJournal  bool `yaml:"enable_journal"`
	EnableEventLog bool `yaml:"enable_eventlog"`

	Graylog GraylogConfig `yaml:"graylog"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Queue   QueueConfig   `yaml:"queue"`
	Console ConsoleConfig `yaml:"console"`
	Admin   AdminConfig   `yaml:"admin"`
	Tracing TracingConfig `yaml:"tracing"`

	DumpFormatPreset   string `yaml:"dump_format_preset"`
	DumpFormatTemplate string `yaml:"dump_format_template"`

	ScrubPatterns map[string]string `yaml:"scrub_patterns"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	PayloadLimits PayloadLimits     `yaml:"payload_limits"`
}

// Defaults returns a Config with every documented default applied, before
// a YAML file or environment overrides are layered on top.
func Defaults() Config {
	return Config{
		ConsoleLevel:     "info",
		BackendLevel:     "info",
		GraylogLevel:     "warning",
		EnableRingBuffer: true,
		RingBufferSize:   10_000,
		Queue: QueueConfig{
			Enabled:     false,
			MaxSize:     2_000,
			FullPolicy:  "block",
			PutTimeout:  time.Second,
			StopTimeout: 5 * time.Second,
		},
		DumpFormatPreset: "full",
		ScrubPatterns:    map[string]string{"password": ".*", "secret": ".*", "token": ".*"},
		RateLimit:        RateLimitConfig{MaxEvents: 0, Window: time.Second},
		PayloadLimits: PayloadLimits{
			MessageMaxChars:      8192,
			TruncateMessage:      true,
			ExtraMaxKeys:         64,
			ExtraMaxValueChars:   4096,
			ExtraMaxDepth:        6,
			ExtraMaxTotalBytes:   65536,
			ContextMaxKeys:       32,
			ContextMaxValueChars: 1024,
			StacktraceMaxFrames:  50,
		},
	}
}

// Load reads configPath (if non-empty) over Defaults(), applies
// LOGCORE_-prefixed environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, logcoreerr.InvalidConfiguration("config", "load", fmt.Sprintf("reading %s: %v", configPath, err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, logcoreerr.InvalidConfiguration("config", "load", fmt.Sprintf("parsing %s: %v", configPath, err))
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants spec.md §6 requires before a runtime
// may be built from cfg.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Service) == "" {
		return logcoreerr.InvalidConfiguration("config", "validate", "service is required")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		return logcoreerr.InvalidConfiguration("config", "validate", "environment is required")
	}
	if _, err := levels.Parse(cfg.ConsoleLevel); err != nil {
		return logcoreerr.InvalidConfiguration("config", "validate", "console_level: "+err.Error())
	}
	if _, err := levels.Parse(cfg.BackendLevel); err != nil {
		return logcoreerr.InvalidConfiguration("config", "validate", "backend_level: "+err.Error())
	}
	if _, err := levels.Parse(cfg.GraylogLevel); err != nil {
		return logcoreerr.InvalidConfiguration("config", "validate", "graylog_level: "+err.Error())
	}
	if cfg.EnableRingBuffer && cfg.RingBufferSize <= 0 {
		return logcoreerr.InvalidConfiguration("config", "validate", "ring_buffer_size must be positive")
	}
	if cfg.Queue.Enabled && cfg.Queue.MaxSize <= 0 {
		return logcoreerr.InvalidConfiguration("config", "validate", "queue.maxsize must be positive")
	}
	if cfg.Queue.FullPolicy != "" && cfg.Queue.FullPolicy != "block" && cfg.Queue.FullPolicy != "drop" {
		return logcoreerr.InvalidConfiguration("config", "validate", "queue.full_policy must be block or drop")
	}
	if cfg.Graylog.Enabled {
		if cfg.Graylog.Protocol == "kafka" {
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return logcoreerr.InvalidConfiguration("config", "validate", "kafka.brokers and kafka.topic are required when graylog.protocol is kafka")
			}
		} else {
			if cfg.Graylog.Host == "" || cfg.Graylog.Port <= 0 {
				return logcoreerr.InvalidConfiguration("config", "validate", "graylog.host and graylog.port are required when graylog is enabled")
			}
			if cfg.Graylog.Protocol != "tcp" && cfg.Graylog.Protocol != "udp" {
				return logcoreerr.InvalidConfiguration("config", "validate", "graylog.protocol must be tcp, udp, or kafka")
			}
		}
	}
	if cfg.Admin.Enabled && cfg.Admin.ListenAddr == "" {
		return logcoreerr.InvalidConfiguration("config", "validate", "admin.listen_addr is required when admin is enabled")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "otlp"
	}
	return nil
}

// envOverride pairs an environment variable suffix (appended to LOGCORE_)
// with the setter applied when it is present.
type envOverride struct {
	key   string
	apply func(cfg *Config, raw string) error
}

func applyEnvOverrides(cfg *Config) error {
	overrides := []envOverride{
		{"SERVICE", func(c *Config, v string) error { c.Service = v; return nil }},
		{"ENVIRONMENT", func(c *Config, v string) error { c.Environment = v; return nil }},
		{"CONSOLE_LEVEL", func(c *Config, v string) error { c.ConsoleLevel = v; return nil }},
		{"BACKEND_LEVEL", func(c *Config, v string) error { c.BackendLevel = v; return nil }},
		{"GRAYLOG_LEVEL", func(c *Config, v string) error { c.GraylogLevel = v; return nil }},
		{"ENABLE_RING_BUFFER", envBool(func(c *Config) *bool { return &c.EnableRingBuffer })},
		{"RING_BUFFER_SIZE", envInt(func(c *Config) *int { return &c.RingBufferSize })},
		{"ENABLE_JOURNAL", envBool(func(c *Config) *bool { return &c.EnableJournal })},
		{"ENABLE_EVENTLOG", envBool(func(c *Config) *bool { return &c.EnableEventLog })},
		{"GRAYLOG_ENABLED", envBool(func(c *Config) *bool { return &c.Graylog.Enabled })},
		{"GRAYLOG_HOST", func(c *Config, v string) error { c.Graylog.Host = v; return nil }},
		{"GRAYLOG_PORT", envInt(func(c *Config) *int { return &c.Graylog.Port })},
		{"GRAYLOG_PROTOCOL", func(c *Config, v string) error { c.Graylog.Protocol = v; return nil }},
		{"GRAYLOG_TLS", envBool(func(c *Config) *bool { return &c.Graylog.TLS })},
		{"QUEUE_ENABLED", envBool(func(c *Config) *bool { return &c.Queue.Enabled })},
		{"QUEUE_MAXSIZE", envInt(func(c *Config) *int { return &c.Queue.MaxSize })},
		{"QUEUE_FULL_POLICY", func(c *Config, v string) error { c.Queue.FullPolicy = v; return nil }},
		{"QUEUE_PUT_TIMEOUT", envDuration(func(c *Config) *time.Duration { return &c.Queue.PutTimeout })},
		{"QUEUE_STOP_TIMEOUT", envDuration(func(c *Config) *time.Duration { return &c.Queue.StopTimeout })},
		{"FORCE_COLOR", envBool(func(c *Config) *bool { return &c.Console.ForceColor })},
		{"NO_COLOR", envBool(func(c *Config) *bool { return &c.Console.NoColor })},
		{"CONSOLE_THEME", func(c *Config, v string) error { c.Console.Theme = v; return nil }},
		{"CONSOLE_FORMAT_PRESET", func(c *Config, v string) error { c.Console.FormatPreset = v; return nil }},
		{"CONSOLE_FORMAT_TEMPLATE", func(c *Config, v string) error { c.Console.FormatTemplate = v; return nil }},
		{"DUMP_FORMAT_PRESET", func(c *Config, v string) error { c.DumpFormatPreset = v; return nil }},
		{"DUMP_FORMAT_TEMPLATE", func(c *Config, v string) error { c.DumpFormatTemplate = v; return nil }},
		{"SCRUB_PATTERNS", func(c *Config, v string) error { c.ScrubPatterns = mergeStringMap(c.ScrubPatterns, parseStringMap(v)); return nil }},
		{"RATE_LIMIT_MAX_EVENTS", envInt(func(c *Config) *int { return &c.RateLimit.MaxEvents })},
		{"RATE_LIMIT_WINDOW", envDuration(func(c *Config) *time.Duration { return &c.RateLimit.Window })},
		{"ADMIN_ENABLED", envBool(func(c *Config) *bool { return &c.Admin.Enabled })},
		{"ADMIN_LISTEN_ADDR", func(c *Config, v string) error { c.Admin.ListenAddr = v; return nil }},
		{"TRACING_ENABLED", envBool(func(c *Config) *bool { return &c.Tracing.Enabled })},
		{"TRACING_EXPORTER", func(c *Config, v string) error { c.Tracing.Exporter = v; return nil }},
		{"TRACING_ENDPOINT", func(c *Config, v string) error { c.Tracing.Endpoint = v; return nil }},
		{"KAFKA_BROKERS", func(c *Config, v string) error { c.Kafka.Brokers = strings.Split(v, ","); return nil }},
		{"KAFKA_TOPIC", func(c *Config, v string) error { c.Kafka.Topic = v; return nil }},
	}

	for _, ov := range overrides {
		raw, ok := os.LookupEnv("LOGCORE_" + ov.key)
		if !ok {
			continue
		}
		if err := ov.apply(cfg, raw); err != nil {
			return logcoreerr.InvalidConfiguration("config", "env_override", fmt.Sprintf("LOGCORE_%s: %v", ov.key, err))
		}
	}
	return nil
}

func envBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func envInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func envDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

// parseStringMap parses a "k1=v1,k2=v2" environment value, the same
// delimiter convention the teacher's getEnvStringMap uses.
func parseStringMap(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}

func mergeStringMap(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
