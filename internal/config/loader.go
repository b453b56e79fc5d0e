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

	"github.com/okian/worldwatch/internal/adapters/tabular"
)

// Environment names.
const (
	EnvConfigFile = "WORLDWATCH_CONFIG"
	envPrefix     = "WORLDWATCH_"
)

var validBackends = map[string]bool{"sqlite": true, "xlsx": true, "csv": true, "none": true}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if WORLDWATCH_CONFIG is set
//  3. env (prefix WORLDWATCH_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// WORLDWATCH_FETCH_LIMIT -> fetch_limit. Flat keys keep their underscores.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.APIBaseURL == "":
		return fmt.Errorf("%w: api_base_url must not be empty", ErrInvalidConfig)
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.FetchLimit <= 0:
		return fmt.Errorf("%w: fetch_limit must be positive", ErrInvalidConfig)
	case c.FixedLimit <= 0:
		return fmt.Errorf("%w: fixed_limit must be positive", ErrInvalidConfig)
	case c.FetchDelayMS < 0, c.RetryBackoffMS < 0, c.HistoryThrottleSeconds < 0:
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	case c.RetryAttempts < 1:
		return fmt.Errorf("%w: retry_attempts must be at least 1", ErrInvalidConfig)
	case !validBackends[c.StorageBackend]:
		return fmt.Errorf("%w: unknown storage_backend %q", ErrInvalidConfig, c.StorageBackend)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	tables := make(map[string]string, len(c.Sources))
	for name, src := range c.Sources {
		table := tabular.SanitizeName(name)
		if other, ok := tables[table]; ok {
			a, b := min(name, other), max(name, other)
			return fmt.Errorf("%w: sources %q and %q share table name %q", ErrInvalidConfig, a, b, table)
		}
		tables[table] = name

		switch src.Type {
		case SourceKeyword:
			if strings.TrimSpace(src.Keywords) == "" {
				return fmt.Errorf("%w: source %q has no keywords", ErrInvalidConfig, name)
			}
		case SourceUser:
			if strings.TrimSpace(src.UserID) == "" {
				return fmt.Errorf("%w: source %q has no user_id", ErrInvalidConfig, name)
			}
		default:
			return fmt.Errorf("%w: source %q has unknown type %q", ErrInvalidConfig, name, src.Type)
		}
		if src.Limit < 0 {
			return fmt.Errorf("%w: source %q has negative limit", ErrInvalidConfig, name)
		}
	}
	return nil
}
