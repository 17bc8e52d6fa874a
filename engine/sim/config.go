package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Errors returned by Config.Validate.
var (
	ErrNoClusters       = errors.New("sim: at least one cluster is required")
	ErrClusterAddress   = errors.New("sim: cluster address is required")
	ErrDuplicateAddress = errors.New("sim: duplicate cluster address")
	ErrClusterBackend   = errors.New("sim: cluster backend is required")
)

// Defaults applied by DefaultConfig.
const (
	DefaultEmbeddedDataThreshold = 0
	MaxEmbeddedDataThreshold     = 100 * 1024
	DefaultMarkInterval          = 1024 * 1024
	DefaultMaxResend             = 100 * 1024 * 1024
	DefaultRetryLimit            = 6
	DefaultRetrySleep            = 100 * time.Millisecond
	DefaultBlockSize             = 16 * 1024
)

// Config holds configuration for the simulated engine.
type Config struct {
	// Clusters are the clusters a pool connection string may name.
	Clusters []ClusterConfig

	// EmbeddedDataThreshold is the blob size below which blob data is kept
	// in the clip descriptor. Zero disables embedding.
	EmbeddedDataThreshold int64

	// MarkInterval is the number of bytes between stream marks.
	MarkInterval int64

	// MaxResend bounds the bytes re-sent after stream resets in one
	// transfer.
	MaxResend int64

	// RetryLimit is the number of retries for failed store operations and
	// stream resets.
	RetryLimit int

	// RetrySleep is the wait between store retries.
	RetrySleep time.Duration

	// BlockSize is the download block size.
	BlockSize int

	// Faults, if set, injects transfer faults.
	Faults FaultInjector

	// Clock is the engine time source. Nil means the system clock.
	Clock Clock

	// Logger receives engine logs. Nil discards them.
	Logger *slog.Logger
}

// ClusterConfig describes one simulated cluster.
type ClusterConfig struct {
	// Address is the name a connection string uses for the cluster.
	Address string

	Name     string
	ID       string
	Version  string
	Capacity int64

	// Backend is the store registry name, for example "file" or "s3".
	Backend        string
	BackendOptions map[string]string

	// Replica is the address of the cluster that mirrors this one.
	Replica string

	// Compression is the blob codec: "none", "gzip" or "zstd".
	Compression string

	RetentionClasses []RetentionClassConfig

	// Capabilities override the defaults. Keys are "name/attribute".
	Capabilities map[string]string

	// Profiles are selected with "?name=" in a connection string.
	Profiles map[string]ProfileConfig
}

// RetentionClassConfig is a named retention period.
type RetentionClassConfig struct {
	Name   string
	Period time.Duration
}

// ProfileConfig narrows the capabilities of pools opened with a profile.
type ProfileConfig struct {
	Capabilities map[string]string
	ProfileClip  string
}

// DefaultConfig returns a Config with default values and no clusters.
func DefaultConfig() Config {
	return Config{
		EmbeddedDataThreshold: DefaultEmbeddedDataThreshold,
		MarkInterval:          DefaultMarkInterval,
		MaxResend:             DefaultMaxResend,
		RetryLimit:            DefaultRetryLimit,
		RetrySleep:            DefaultRetrySleep,
		BlockSize:             DefaultBlockSize,
	}
}

// MemoryCluster returns an in-memory cluster reachable at address.
func MemoryCluster(address string) ClusterConfig {
	return ClusterConfig{
		Address:  address,
		Name:     address,
		ID:       address,
		Version:  Version,
		Capacity: 1 << 40,
		Backend:  "memory",
	}
}

// ConfigFromMap creates a single-cluster Config from a string map.
// Supported keys: address, name, id, backend, compression, replica,
// embedded_data_threshold, mark_interval, retry_limit, retry_sleep, and
// any key prefixed with "backend." which is passed to the store backend.
// A replica address gets a second cluster using the keys prefixed with
// "replica.".
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	config.Clusters = append(config.Clusters, clusterFromMap(m, ""))
	if replica := m["replica"]; replica != "" {
		rc := clusterFromMap(m, "replica.")
		rc.Address = replica
		if rc.Name == "" {
			rc.Name = replica
		}
		if rc.ID == "" {
			rc.ID = replica
		}
		config.Clusters = append(config.Clusters, rc)
	}

	if v, err := strconv.ParseInt(m["embedded_data_threshold"], 10, 64); err == nil {
		config.EmbeddedDataThreshold = v
	}
	if v, err := strconv.ParseInt(m["mark_interval"], 10, 64); err == nil && v > 0 {
		config.MarkInterval = v
	}
	if v, err := strconv.Atoi(m["retry_limit"]); err == nil && v >= 0 {
		config.RetryLimit = v
	}
	if v, err := time.ParseDuration(m["retry_sleep"]); err == nil {
		config.RetrySleep = v
	}

	return config
}

func clusterFromMap(m map[string]string, prefix string) ClusterConfig {
	c := ClusterConfig{
		Address:        m[prefix+"address"],
		Name:           m[prefix+"name"],
		ID:             m[prefix+"id"],
		Version:        Version,
		Capacity:       1 << 40,
		Backend:        m[prefix+"backend"],
		Compression:    m[prefix+"compression"],
		BackendOptions: make(map[string]string),
	}
	if prefix == "" {
		c.Replica = m["replica"]
	}
	if c.Address == "" {
		c.Address = "localhost"
	}
	if c.Name == "" {
		c.Name = c.Address
	}
	if c.ID == "" {
		c.ID = c.Address
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if v, err := strconv.ParseInt(m[prefix+"capacity"], 10, 64); err == nil {
		c.Capacity = v
	}
	for k, v := range m {
		if opt, ok := strings.CutPrefix(k, prefix+"backend."); ok {
			c.BackendOptions[opt] = v
		}
	}
	return c
}

// ConfigFromEnv creates a single-cluster Config from environment variables.
// Environment variables:
//   - OMNICAS_SIM_ADDRESS: cluster address (default "localhost")
//   - OMNICAS_SIM_BACKEND: store backend (default "memory")
//   - OMNICAS_SIM_ROOT: root directory for the file backend
//   - OMNICAS_SIM_COMPRESSION: blob codec
//   - OMNICAS_SIM_REPLICA: replica cluster address
func ConfigFromEnv() Config {
	m := map[string]string{
		"address":     os.Getenv("OMNICAS_SIM_ADDRESS"),
		"backend":     os.Getenv("OMNICAS_SIM_BACKEND"),
		"compression": os.Getenv("OMNICAS_SIM_COMPRESSION"),
		"replica":     os.Getenv("OMNICAS_SIM_REPLICA"),
	}
	if root := os.Getenv("OMNICAS_SIM_ROOT"); root != "" {
		m["backend.root"] = root
	}
	return ConfigFromMap(m)
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if len(c.Clusters) == 0 {
		return ErrNoClusters
	}
	seen := make(map[string]bool, len(c.Clusters))
	for _, cl := range c.Clusters {
		if cl.Address == "" {
			return ErrClusterAddress
		}
		if seen[cl.Address] {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, cl.Address)
		}
		seen[cl.Address] = true
		if cl.Backend == "" {
			return fmt.Errorf("%w: %s", ErrClusterBackend, cl.Address)
		}
	}
	for _, cl := range c.Clusters {
		if cl.Replica != "" && !seen[cl.Replica] {
			return fmt.Errorf("sim: cluster %s: unknown replica %s", cl.Address, cl.Replica)
		}
	}
	if c.EmbeddedDataThreshold < 0 || c.EmbeddedDataThreshold > MaxEmbeddedDataThreshold {
		return fmt.Errorf("sim: embedded data threshold must be between 0 and %d", MaxEmbeddedDataThreshold)
	}
	return nil
}
