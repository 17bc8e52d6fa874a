package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grokify/omnicas"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  format: JSON
engine:
  name: sim
  retry_limit: 2
  retry_sleep: 5ms
clusters:
  - address: cas1
    store:
      type: file
      options:
        root: /tmp/cas1
    replica: cas2
    compression: zstd
    retention_classes:
      - name: short
        period: 720h
    capabilities:
      delete/allowed: "false"
    profiles:
      reader:
        capabilities:
          write/allowed: "false"
  - address: cas2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 2, cfg.Engine.RetryLimit)
	assert.Equal(t, 5*time.Millisecond, cfg.Engine.RetrySleep)
	assert.EqualValues(t, 1024*1024, cfg.Engine.MarkInterval)

	require.Len(t, cfg.Clusters, 2)
	c := cfg.Clusters[0]
	assert.Equal(t, "cas1", c.Name)
	assert.Equal(t, "file", c.Store.Type)
	assert.Equal(t, "/tmp/cas1", c.Store.Options["root"])
	assert.Equal(t, "cas2", c.Replica)
	assert.Equal(t, []RetentionClassConfig{{Name: "short", Period: 720 * time.Hour}}, c.RetentionClasses)
	assert.Equal(t, "false", c.Capabilities["delete/allowed"])
	assert.Equal(t, "false", c.Profiles["reader"].Capabilities["write/allowed"])

	assert.Equal(t, "memory", cfg.Clusters[1].Store.Type)
	assert.Equal(t, "none", cfg.Clusters[1].Compression)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[engine]
name = "sim"
block_size = 4096

[[clusters]]
address = "archive"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Engine.BlockSize)
	require.Len(t, cfg.Clusters, 1)
	assert.Equal(t, "archive", cfg.Clusters[0].ID)
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Engine.Name)
	require.Len(t, cfg.Clusters, 1)
	assert.Equal(t, "localhost", cfg.Clusters[0].Address)
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", "engine: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("OMNICAS_LOGGING__LEVEL", "warn")
	t.Setenv("OMNICAS_ENGINE__RETRY_LIMIT", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Engine.RetryLimit)
}

func TestDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "omnicas", "config.yaml"), DefaultPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "TRACE" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"unknown engine", func(c *Config) { c.Engine.Name = "nosuchengine" }},
		{"threshold too large", func(c *Config) { c.Engine.EmbeddedDataThreshold = 200 * 1024 }},
		{"no clusters", func(c *Config) { c.Clusters = nil }},
		{"missing address", func(c *Config) { c.Clusters[0].Address = "" }},
		{"duplicate address", func(c *Config) { c.Clusters = append(c.Clusters, c.Clusters[0]) }},
		{"unknown store", func(c *Config) { c.Clusters[0].Store.Type = "tape" }},
		{"bad compression", func(c *Config) { c.Clusters[0].Compression = "lzma" }},
		{"unknown replica", func(c *Config) { c.Clusters[0].Replica = "elsewhere" }},
		{"self replica", func(c *Config) { c.Clusters[0].Replica = c.Clusters[0].Address }},
		{"unnamed class", func(c *Config) {
			c.Clusters[0].RetentionClasses = []RetentionClassConfig{{Period: time.Hour}}
		}},
	}

	require.NoError(t, Validate(Default()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestOpen(t *testing.T) {
	cfg := Default()
	cfg.Clusters[0].RetentionClasses = []RetentionClassConfig{{Name: "short", Period: time.Hour}}

	logger, closer, err := NewLogger(cfg.Logging)
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()

	sess, err := cfg.Open(logger)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	pool, err := sess.OpenPool(context.Background(), "localhost")
	require.NoError(t, err)

	classes, err := pool.RetentionClasses()
	require.NoError(t, err)
	defer func() { _ = classes.Close() }()
	n, err := classes.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Same(t, logger, sess.Logger())
}

func TestOpenOtherEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine.Options = map[string]string{"address": "from-options"}
	cfg.Engine.Name = "sim-options"

	omnicas.RegisterEngine("sim-options", func(m map[string]string) (omnicas.Engine, error) {
		return omnicas.OpenEngine("sim", m)
	})
	defer omnicas.UnregisterEngine("sim-options")

	sess, err := cfg.Open(nil)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	_, err = sess.OpenPool(context.Background(), "from-options")
	assert.NoError(t, err)
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omnicas.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "INFO", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSimConfigStoreOptions(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
clusters:
  - address: remote
    store:
      type: sftp
      options:
        host: backup.example.com
        port: 2222
        known_hosts: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	sc, err := cfg.SimConfig(nil)
	require.NoError(t, err)
	require.Len(t, sc.Clusters, 1)
	opts := sc.Clusters[0].BackendOptions
	assert.Equal(t, "backup.example.com", opts["host"])
	assert.Equal(t, "2222", opts["port"])
	assert.Equal(t, "0", opts["known_hosts"])
	assert.Equal(t, "sftp", sc.Clusters[0].Backend)
}
