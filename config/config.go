// Package config loads omnicas application configuration from a file and
// the environment, and turns it into an open session.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides. Nested keys are joined with a
// double underscore, for example OMNICAS_ENGINE__RETRY_LIMIT.
const EnvPrefix = "OMNICAS"

// Config is the complete omnicas configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (OMNICAS_*)
//  2. Configuration file (YAML, TOML or JSON)
//  3. Default values
type Config struct {
	Logging  LoggingConfig   `mapstructure:"logging"`
	Engine   EngineConfig    `mapstructure:"engine"`
	Clusters []ClusterConfig `mapstructure:"clusters" validate:"dive"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN or ERROR, normalized to uppercase.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// EngineConfig selects the engine and tunes it.
type EngineConfig struct {
	// Name is a registered engine name.
	Name string `mapstructure:"name" validate:"required"`

	// Options are passed to engines other than sim.
	Options map[string]string `mapstructure:"options"`

	EmbeddedDataThreshold int64         `mapstructure:"embedded_data_threshold" validate:"gte=0,lte=102400"`
	MarkInterval          int64         `mapstructure:"mark_interval" validate:"gt=0"`
	MaxResend             int64         `mapstructure:"max_resend" validate:"gt=0"`
	RetryLimit            int           `mapstructure:"retry_limit" validate:"gte=0"`
	RetrySleep            time.Duration `mapstructure:"retry_sleep" validate:"gte=0"`
	BlockSize             int           `mapstructure:"block_size" validate:"gt=0"`
}

// ClusterConfig describes one simulated cluster.
type ClusterConfig struct {
	Address  string `mapstructure:"address" validate:"required"`
	Name     string `mapstructure:"name"`
	ID       string `mapstructure:"id"`
	Capacity int64  `mapstructure:"capacity" validate:"gte=0"`

	Store StoreConfig `mapstructure:"store"`

	Replica     string `mapstructure:"replica"`
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none gzip zstd"`

	RetentionClasses []RetentionClassConfig   `mapstructure:"retention_classes" validate:"dive"`
	Capabilities     map[string]string        `mapstructure:"capabilities"`
	Profiles         map[string]ProfileConfig `mapstructure:"profiles" validate:"dive"`
}

// StoreConfig selects the store backend behind a cluster.
type StoreConfig struct {
	// Type is a store registry name: memory, file, s3, sftp or badger.
	Type string `mapstructure:"type" validate:"required"`

	// Options are backend settings such as root or bucket. Scalar values
	// of any YAML type are accepted and passed to the backend as strings.
	Options map[string]any `mapstructure:"options"`
}

// RetentionClassConfig is a named retention period.
type RetentionClassConfig struct {
	Name   string        `mapstructure:"name" validate:"required"`
	Period time.Duration `mapstructure:"period" validate:"gte=0"`
}

// ProfileConfig narrows capabilities for pools opened with a profile.
type ProfileConfig struct {
	Capabilities map[string]string `mapstructure:"capabilities"`
	ProfileClip  string            `mapstructure:"profile_clip"`
}

// Load reads configuration from configPath, or from the default location
// when configPath is empty, then applies environment overrides and
// defaults and validates the result. A missing default file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"engine.name", "engine.embedded_data_threshold", "engine.mark_interval",
		"engine.max_resend", "engine.retry_limit", "engine.retry_sleep",
		"engine.block_size",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDir is $XDG_CONFIG_HOME/omnicas, ~/.config/omnicas, or "." when
// neither can be determined.
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "omnicas")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "omnicas")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}
