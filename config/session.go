package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/engine/sim"
)

// NewLogger builds the slog logger described by cfg. The returned closer
// releases a log file and is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SimConfig converts the engine and cluster sections into a sim.Config.
func (c *Config) SimConfig(logger *slog.Logger) (sim.Config, error) {
	sc := sim.DefaultConfig()
	sc.EmbeddedDataThreshold = c.Engine.EmbeddedDataThreshold
	sc.MarkInterval = c.Engine.MarkInterval
	sc.MaxResend = c.Engine.MaxResend
	sc.RetryLimit = c.Engine.RetryLimit
	sc.RetrySleep = c.Engine.RetrySleep
	sc.BlockSize = c.Engine.BlockSize
	sc.Logger = logger

	for _, cl := range c.Clusters {
		var backendOptions map[string]string
		if err := mapstructure.WeakDecode(cl.Store.Options, &backendOptions); err != nil {
			return sim.Config{}, fmt.Errorf("cluster %s: store options: %w", cl.Address, err)
		}
		cc := sim.ClusterConfig{
			Address:        cl.Address,
			Name:           cl.Name,
			ID:             cl.ID,
			Version:        sim.Version,
			Capacity:       cl.Capacity,
			Backend:        cl.Store.Type,
			BackendOptions: backendOptions,
			Replica:        cl.Replica,
			Compression:    cl.Compression,
			Capabilities:   cl.Capabilities,
		}
		for _, rc := range cl.RetentionClasses {
			cc.RetentionClasses = append(cc.RetentionClasses, sim.RetentionClassConfig{
				Name:   rc.Name,
				Period: rc.Period,
			})
		}
		if len(cl.Profiles) > 0 {
			cc.Profiles = make(map[string]sim.ProfileConfig, len(cl.Profiles))
			for name, p := range cl.Profiles {
				cc.Profiles[name] = sim.ProfileConfig{
					Capabilities: p.Capabilities,
					ProfileClip:  p.ProfileClip,
				}
			}
		}
		sc.Clusters = append(sc.Clusters, cc)
	}
	return sc, nil
}

// Open creates the configured engine and a session over it. The sim engine
// is built from the cluster sections. Other engines receive
// Engine.Options.
func (c *Config) Open(logger *slog.Logger) (*omnicas.Session, error) {
	if c.Engine.Name != "sim" {
		return omnicas.Open(c.Engine.Name, c.Engine.Options, omnicas.WithLogger(logger))
	}
	sc, err := c.SimConfig(logger)
	if err != nil {
		return nil, err
	}
	engine, err := sim.New(sc)
	if err != nil {
		return nil, err
	}
	return omnicas.NewSession(engine, omnicas.WithLogger(logger)), nil
}
