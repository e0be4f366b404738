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

// envPrefix namespaces remedyd environment variables.
const envPrefix = "REMEDYD_"

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (REMEDYD_SERVER_PORT, REMEDYD_GITHUB_APP_ID, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting the first underscore into a section separator:
//
//	REMEDYD_SERVER_PORT             -> server.port
//	REMEDYD_GITHUB_APP_ID           -> github.app_id
//	REMEDYD_REMEDIATION_ENABLED     -> remediation.enabled
//	REMEDYD_SENTRY_AUTH_TOKEN       -> sentry.auth_token
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// transformEnvKey maps REMEDYD_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore becomes a separator; the rest of the key stays
// underscored to match the koanf struct tags.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, found := strings.Cut(s, "_")
	if !found {
		return s
	}
	return section + "." + rest
}
