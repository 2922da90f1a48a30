package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// setupConfigDir points HOME at a temp dir and returns the allowed config
// directory inside it.
func setupConfigDir(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "logsieve")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", `
sampling:
  rate: 0.1
  force_level: warn
  excluded_paths: [/health, /metrics]
  idle_timeout: 45s
aggregation:
  repeat_threshold: 3
  burst_window: 500ms
dispatch:
  async: false
  drain_timeout: 2s
sink:
  type: nats
  nats:
    url: nats://127.0.0.1:4222
    subject: logs.app
    token: s3cr3t
server:
  http_port: 9555
logging:
  level: debug
  format: console
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Sampling.Rate)
	assert.Equal(t, Level(zapcore.WarnLevel), cfg.Sampling.ForceLevel)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Sampling.ExcludedPaths)
	assert.Equal(t, 45*time.Second, cfg.Sampling.IdleTimeout.Duration())
	assert.Equal(t, 3, cfg.Aggregation.RepeatThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Aggregation.BurstWindow.Duration())
	assert.False(t, cfg.Dispatch.Async)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.DrainTimeout.Duration())
	assert.Equal(t, SinkNATS, cfg.Sink.Type)
	assert.Equal(t, "logs.app", cfg.Sink.NATS.Subject)
	assert.Equal(t, "s3cr3t", cfg.Sink.NATS.Token.Value())
	assert.Equal(t, 9555, cfg.Server.Port)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Unset values keep their defaults.
	assert.Equal(t, 100000, cfg.Sampling.MaxTraces)
	assert.Equal(t, 10000, cfg.Dispatch.Capacity)
	assert.True(t, cfg.Logging.Output.Stderr)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupConfigDir(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig().Sampling, cfg.Sampling)
}

func TestLoadWithFile_DefaultPath(t *testing.T) {
	setupConfigDir(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, SinkStdout, cfg.Sink.Type)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", `
sampling:
  rate: 0.5
sink:
  type: file
  path: /tmp/a.ndjson
`)

	t.Setenv("LOGSIEVE_SAMPLING_RATE", "0.2")
	t.Setenv("LOGSIEVE_SAMPLING_EXCLUDED_PATHS", "/health,/ready")
	t.Setenv("LOGSIEVE_DISPATCH_DRAIN_TIMEOUT", "3s")
	t.Setenv("LOGSIEVE_SINK_COMPRESS", "true")
	t.Setenv("LOGSIEVE_LOGGING_OUTPUT__OTEL", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Sampling.Rate)
	assert.Equal(t, []string{"/health", "/ready"}, cfg.Sampling.ExcludedPaths)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.DrainTimeout.Duration())
	assert.True(t, cfg.Sink.Compress)
	assert.Equal(t, "/tmp/a.ndjson", cfg.Sink.Path)
	assert.True(t, cfg.Logging.Output.OTEL)
}

func TestLoadWithFile_PolicyFile(t *testing.T) {
	dir := setupConfigDir(t)
	policy := writeConfig(t, dir, "policy.toml", `
default_strategy = "mask"
sensitive_fields = ["employee_id"]
inspect_values = true

[strategies]
email = "hash:sha256"

[[patterns]]
id = "employee"
pattern = 'EMP-\d{6}'
`)
	path := writeConfig(t, dir, "config.yaml", "sanitize:\n  policy_file: "+policy+"\n")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "mask", cfg.Sanitize.DefaultStrategy)
	assert.Equal(t, []string{"employee_id"}, cfg.Sanitize.SensitiveFields)
	require.Len(t, cfg.Sanitize.Patterns, 1)
	assert.Equal(t, "employee", cfg.Sanitize.Patterns[0].ID)
}

func TestLoadWithFile_InvalidPolicyFile(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", "sanitize:\n  policy_file: "+filepath.Join(dir, "nope.toml")+"\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy file")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", "sampling:\n  rate: 2\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", "sampling: [unclosed\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	setupConfigDir(t)
	other := t.TempDir()
	path := writeConfig(t, other, "config.yaml", "sampling:\n  rate: 0.5\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsPrefixSibling(t *testing.T) {
	dir := setupConfigDir(t)
	sibling := dir + "-evil"
	require.NoError(t, os.MkdirAll(sibling, 0700))
	path := writeConfig(t, sibling, "config.yaml", "")

	_, err := LoadWithFile(path)
	require.Error(t, err)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupConfigDir(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  rate: 0.5\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_TooLarge(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "config.yaml", "# "+strings.Repeat("x", maxConfigFileSize)+"\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"LOGSIEVE_SAMPLING_RATE":          "sampling.rate",
		"LOGSIEVE_DISPATCH_DRAIN_TIMEOUT": "dispatch.drain_timeout",
		"LOGSIEVE_SINK_NATS__URL":         "sink.nats.url",
		"LOGSIEVE_LOGGING_OUTPUT__STDERR": "logging.output.stderr",
		"LOGSIEVE_DEBUG":                  "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
