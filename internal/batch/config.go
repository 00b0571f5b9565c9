package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"imagebatch/internal/domain"
	"imagebatch/internal/providers/image"
)

// DefaultBatchSize is used when a snapshot does not set one.
const DefaultBatchSize = 2

// Config is the immutable snapshot a run is started or resumed with.
type Config struct {
	Image     image.Config
	BatchSize int
	Count     int
	Width     int
	Height    int
	// Timeout bounds a single dispatch. Zero leaves provider calls unbounded.
	Timeout time.Duration
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Count < 0 {
		c.Count = 0
	}
	return c
}

// ConfigError wraps a configuration problem detected at admission.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "batch: invalid configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err was raised while validating a Config.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// validate checks the provider selection and probes the factory. The probe
// performs no I/O and its adapter is discarded.
func validate(factory image.Factory, cfg Config) (Config, error) {
	cfg = cfg.normalized()
	if strings.TrimSpace(cfg.Image.Provider) == "" {
		return cfg, &ConfigError{Err: domain.ErrProviderUnconfigured}
	}
	if _, err := factory(cfg.Image); err != nil {
		return cfg, &ConfigError{Err: fmt.Errorf("%w: %w", domain.ErrProviderUnconfigured, err)}
	}
	return cfg, nil
}
