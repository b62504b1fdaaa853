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

// envPrefix is the prefix for environment overrides.
// RAG_SEARCH__TOP_K maps to search.top_k.
const envPrefix = "RAG_"

// Load merges configuration from the optional YAML file at path and the
// environment on top of defaults, then validates the result.
//
// Precedence (highest first): environment, YAML file, defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := loadEnv(k); err != nil {
		return Config{}, err
	}

	return finish(k)
}

// LoadBytes builds configuration from raw YAML plus the environment.
// Used by tests and embedded deployments.
func LoadBytes(raw []byte) (Config, error) {
	k := koanf.New(".")

	if len(raw) > 0 {
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parsing config bytes: %w", err)
		}
	}

	if err := loadEnv(k); err != nil {
		return Config{}, err
	}

	return finish(k)
}

func loadEnv(k *koanf.Koanf) error {
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// RAG_SEARCH__TOP_K -> search.top_k
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("loading environment: %w", err)
	}
	return nil
}

func finish(k *koanf.Koanf) (Config, error) {
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
