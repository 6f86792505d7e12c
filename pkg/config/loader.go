// Package config loads service configuration from environment variables
// described by `env` and `envDefault` struct tags.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg, a pointer to a tagged struct, from the process
// environment. Every missing or malformed variable is reported, not only
// the first one.
func Load(cfg any) error {
	return load(cfg, env.Options{})
}

// LoadFrom is Load reading from environ instead of the process environment.
func LoadFrom(cfg any, environ map[string]string) error {
	return load(cfg, env.Options{Environment: environ})
}

func load(cfg any, opts env.Options) error {
	err := env.ParseWithOptions(cfg, opts)
	if err == nil {
		return nil
	}
	var agg env.AggregateError
	if errors.As(err, &agg) {
		return fmt.Errorf("parse config: %w", errors.Join(agg.Errors...))
	}
	return fmt.Errorf("parse config: %w", err)
}
