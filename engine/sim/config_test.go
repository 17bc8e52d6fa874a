package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, int64(DefaultMarkInterval), config.MarkInterval)
	assert.Equal(t, DefaultRetryLimit, config.RetryLimit)
	assert.Equal(t, DefaultBlockSize, config.BlockSize)
	assert.ErrorIs(t, config.Validate(), ErrNoClusters)
}

func TestConfigFromMap(t *testing.T) {
	config := ConfigFromMap(map[string]string{
		"address":                 "cas1",
		"backend":                 "file",
		"backend.root":            "/var/lib/cas1",
		"compression":             "zstd",
		"replica":                 "cas2",
		"replica.backend":         "memory",
		"embedded_data_threshold": "2048",
		"retry_limit":             "2",
		"retry_sleep":             "250ms",
	})

	require.Len(t, config.Clusters, 2)
	primary, replica := config.Clusters[0], config.Clusters[1]

	assert.Equal(t, "cas1", primary.Address)
	assert.Equal(t, "file", primary.Backend)
	assert.Equal(t, "/var/lib/cas1", primary.BackendOptions["root"])
	assert.Equal(t, "zstd", primary.Compression)
	assert.Equal(t, "cas2", primary.Replica)

	assert.Equal(t, "cas2", replica.Address)
	assert.Equal(t, "memory", replica.Backend)
	assert.Empty(t, replica.Replica)

	assert.Equal(t, int64(2048), config.EmbeddedDataThreshold)
	assert.Equal(t, 2, config.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, config.RetrySleep)
	assert.NoError(t, config.Validate())
}

func TestConfigFromMapDefaults(t *testing.T) {
	config := ConfigFromMap(map[string]string{})

	require.Len(t, config.Clusters, 1)
	assert.Equal(t, "localhost", config.Clusters[0].Address)
	assert.Equal(t, "memory", config.Clusters[0].Backend)
	assert.Equal(t, int64(DefaultMarkInterval), config.MarkInterval)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OMNICAS_SIM_ADDRESS", "envcas")
	t.Setenv("OMNICAS_SIM_BACKEND", "file")
	t.Setenv("OMNICAS_SIM_ROOT", "/tmp/envcas")

	config := ConfigFromEnv()
	require.Len(t, config.Clusters, 1)
	assert.Equal(t, "envcas", config.Clusters[0].Address)
	assert.Equal(t, "/tmp/envcas", config.Clusters[0].BackendOptions["root"])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"missing address", func(c *Config) { c.Clusters[0].Address = "" }, ErrClusterAddress},
		{"missing backend", func(c *Config) { c.Clusters[0].Backend = "" }, ErrClusterBackend},
		{"duplicate", func(c *Config) { c.Clusters = append(c.Clusters, MemoryCluster("a")) }, ErrDuplicateAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Clusters = []ClusterConfig{MemoryCluster("a")}
			tt.modify(&config)

			err := config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "Validate() = %v, want %v", err, tt.wantErr)
		})
	}

	config := DefaultConfig()
	config.Clusters = []ClusterConfig{MemoryCluster("a")}
	config.Clusters[0].Replica = "b"
	assert.Error(t, config.Validate(), "unknown replica")

	config.Clusters[0].Replica = ""
	config.EmbeddedDataThreshold = MaxEmbeddedDataThreshold + 1
	assert.Error(t, config.Validate(), "threshold above maximum")
}
