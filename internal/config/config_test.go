package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("LOGCORE_SERVICE", "svc")
	t.Setenv("LOGCORE_ENVIRONMENT", "prod")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "svc", cfg.Service)
	require.Equal(t, "info", cfg.ConsoleLevel)
	require.Equal(t, 10_000, cfg.RingBufferSize)
}

func TestLoadFailsWithoutRequiredFields(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "service: file-svc\nenvironment: staging\nring_buffer_size: 50\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "file-svc", cfg.Service)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 50, cfg.RingBufferSize)
}

func TestLoadReturnsInvalidConfigurationForMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: file-svc\nenvironment: staging\n"), 0o600))

	t.Setenv("LOGCORE_SERVICE", "env-svc")
	t.Setenv("LOGCORE_RING_BUFFER_SIZE", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-svc", cfg.Service)
	require.Equal(t, 99, cfg.RingBufferSize)
}

func TestEnvOverrideInvalidIntErrors(t *testing.T) {
	t.Setenv("LOGCORE_SERVICE", "svc")
	t.Setenv("LOGCORE_ENVIRONMENT", "prod")
	t.Setenv("LOGCORE_RING_BUFFER_SIZE", "not-a-number")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsUnknownLevels(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.ConsoleLevel = "bogus"
	require.Error(t, Validate(&cfg))
}

func TestValidateRequiresQueueMaxSizeWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.Queue.Enabled = true
	cfg.Queue.MaxSize = 0
	require.Error(t, Validate(&cfg))
}

func TestValidateRequiresKafkaFieldsWhenGraylogProtocolIsKafka(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.Graylog.Enabled = true
	cfg.Graylog.Protocol = "kafka"
	require.Error(t, Validate(&cfg))

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "logs"
	require.NoError(t, Validate(&cfg))
}

func TestValidateRequiresGraylogHostAndPortForTCP(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.Graylog.Enabled = true
	cfg.Graylog.Protocol = "tcp"
	require.Error(t, Validate(&cfg))

	cfg.Graylog.Host = "graylog.internal"
	cfg.Graylog.Port = 12201
	require.NoError(t, Validate(&cfg))
}

func TestValidateDefaultsTracingExporterToOTLP(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.Tracing.Enabled = true
	require.NoError(t, Validate(&cfg))
	require.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func TestValidateRequiresAdminListenAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Service = "svc"
	cfg.Environment = "prod"
	cfg.Admin.Enabled = true
	require.Error(t, Validate(&cfg))
}

func TestScrubPatternsEnvOverrideMerges(t *testing.T) {
	t.Setenv("LOGCORE_SERVICE", "svc")
	t.Setenv("LOGCORE_ENVIRONMENT", "prod")
	t.Setenv("LOGCORE_SCRUB_PATTERNS", "apikey=.*,password=.*")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Contains(t, cfg.ScrubPatterns, "apikey")
	require.Contains(t, cfg.ScrubPatterns, "password")
	require.Contains(t, cfg.ScrubPatterns, "secret", "env override merges with, not replaces, defaults")
}
