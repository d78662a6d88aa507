package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if AIRWATCH_CONFIG is set
//  3. env (prefix AIRWATCH_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("AIRWATCH_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: AIRWATCH_CONFIDENCE, AIRWATCH_WINDOW_DAYS, ...
	// Map env keys like AIRWATCH_WINDOW_DAYS -> window_days (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("AIRWATCH_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "airwatch_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects values the analyses cannot run with.
func (c *Config) validate() error {
	switch c.Confidence {
	case 90, 95, 99:
	default:
		return fmt.Errorf("%w: confidence must be 90, 95, or 99, got %d", ErrInvalidConfig, c.Confidence)
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return fmt.Errorf("%w: contamination must be in (0, 0.5], got %g", ErrInvalidConfig, c.Contamination)
	}
	if c.GridResolution <= 0 {
		return fmt.Errorf("%w: grid_resolution must be positive, got %g", ErrInvalidConfig, c.GridResolution)
	}
	if c.MaxInterpolationDistance <= 0 {
		return fmt.Errorf("%w: max_interpolation_distance must be positive, got %g", ErrInvalidConfig, c.MaxInterpolationDistance)
	}
	if c.ClusterEps <= 0 {
		return fmt.Errorf("%w: cluster_eps must be positive, got %g", ErrInvalidConfig, c.ClusterEps)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	}
	if c.WindowDays <= 0 {
		return fmt.Errorf("%w: window_days must be positive, got %d", ErrInvalidConfig, c.WindowDays)
	}
	return nil
}
