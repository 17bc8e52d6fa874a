package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/grokify/omnicas"
	"github.com/grokify/omnicas/store"
)

var validate = validator.New()

// Validate checks struct tags, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if !omnicas.IsEngineRegistered(cfg.Engine.Name) {
		return fmt.Errorf("engine.name: unknown engine %q", cfg.Engine.Name)
	}
	if cfg.Engine.Name != "sim" {
		return nil
	}
	if len(cfg.Clusters) == 0 {
		return errors.New("clusters: at least one cluster must be configured")
	}

	addresses := make(map[string]bool, len(cfg.Clusters))
	for i, c := range cfg.Clusters {
		if addresses[c.Address] {
			return fmt.Errorf("clusters[%d]: duplicate address %q", i, c.Address)
		}
		addresses[c.Address] = true
		if !store.IsRegistered(c.Store.Type) {
			return fmt.Errorf("clusters[%d].store.type: unknown store %q", i, c.Store.Type)
		}
	}
	for i, c := range cfg.Clusters {
		if c.Replica == "" {
			continue
		}
		if c.Replica == c.Address {
			return fmt.Errorf("clusters[%d].replica: cluster cannot replicate to itself", i)
		}
		if !addresses[c.Replica] {
			return fmt.Errorf("clusters[%d].replica: unknown cluster %q", i, c.Replica)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
