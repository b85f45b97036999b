package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces loopcore environment variables.
	envPrefix = "LOOPCORE_"

	maxConfigFileSize = 1 << 20
)

// Load reads configuration with the following precedence (highest first):
//
//  1. Environment variables (LOOPCORE_LOOP_INTERVAL, LOOPCORE_PUMP_MAX_BOLUS, ...)
//  2. YAML config file, if path is non-empty and the file exists
//  3. Defaults from NewDefaultConfig
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting section from field on the first underscore:
//
//	LOOPCORE_LOOP_INTERVAL          -> loop.interval
//	LOOPCORE_GLUCOSE_MIN_SAMPLES    -> glucose.min_samples
//	LOOPCORE_METRICS_LISTEN_ADDR    -> metrics.listen_addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if info, err := os.Stat(path); err == nil {
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// LOOPCORE_LOOP_CLOSED_LOOP -> loop.closed_loop: the section is
		// everything before the first underscore, the rest is the field.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
