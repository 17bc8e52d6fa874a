package config

import (
	"strings"

	"github.com/grokify/omnicas/engine/sim"
)

// ApplyDefaults fills zero values. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyEngineDefaults(&cfg.Engine)

	if cfg.Engine.Name == "sim" && len(cfg.Clusters) == 0 {
		cfg.Clusters = []ClusterConfig{{Address: "localhost"}}
	}
	for i := range cfg.Clusters {
		applyClusterDefaults(&cfg.Clusters[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Name == "" {
		cfg.Name = "sim"
	}
	if cfg.MarkInterval == 0 {
		cfg.MarkInterval = sim.DefaultMarkInterval
	}
	if cfg.MaxResend == 0 {
		cfg.MaxResend = sim.DefaultMaxResend
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = sim.DefaultRetryLimit
	}
	if cfg.RetrySleep == 0 {
		cfg.RetrySleep = sim.DefaultRetrySleep
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = sim.DefaultBlockSize
	}
}

func applyClusterDefaults(cfg *ClusterConfig) {
	if cfg.Name == "" {
		cfg.Name = cfg.Address
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Address
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1 << 40
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Compression == "" {
		cfg.Compression = "none"
	}
}

// Default returns a valid configuration with one in-memory cluster.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
