// Package config provides configuration loading for remedyd.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config is the root configuration for the remedyd daemon.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Remediation RemediationConfig `koanf:"remediation"`
	Anthropic   AnthropicConfig   `koanf:"anthropic"`
	GitHub      GitHubConfig      `koanf:"github"`
	Sentry      SentryConfig      `koanf:"sentry"`
	Jobs        JobsConfig        `koanf:"jobs"`
	Entities    EntitiesConfig    `koanf:"entities"`
	Tenants     TenantsConfig     `koanf:"tenants"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RemediationConfig holds pipeline feature settings.
type RemediationConfig struct {
	// Enabled is the global feature flag; per-tenant overrides apply on top.
	Enabled bool `koanf:"enabled"`

	// ServiceMapping is a JSON object mapping service name to "owner/name"
	// repository. A malformed value is logged and treated as empty, never fatal.
	ServiceMapping string `koanf:"service_mapping"`

	// FrontendBaseURL is the console URL used when linking a pull request back
	// to the originating alert or incident.
	FrontendBaseURL string `koanf:"frontend_base_url"`
}

// ParseServiceMapping decodes the service -> repository table. Callers log the
// returned error and proceed with an empty mapping.
func (r RemediationConfig) ParseServiceMapping() (map[string]string, error) {
	if r.ServiceMapping == "" {
		return nil, nil
	}
	mapping := map[string]string{}
	if err := json.Unmarshal([]byte(r.ServiceMapping), &mapping); err != nil {
		return nil, fmt.Errorf("parse service mapping: %w", err)
	}
	return mapping, nil
}

// AnthropicConfig holds generative backend settings. An unset APIKey selects
// the deterministic template generator at startup.
type AnthropicConfig struct {
	APIKey  Secret   `koanf:"api_key"`
	Model   string   `koanf:"model"`
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
}

// GitHubConfig holds GitHub App settings for pull request publishing.
type GitHubConfig struct {
	// CreatePullRequests gates the publish stage. When false, repository
	// resolution and publishing are skipped entirely.
	CreatePullRequests bool `koanf:"create_pull_requests"`

	AppID          string   `koanf:"app_id"`
	PrivateKey     Secret   `koanf:"private_key"`
	PrivateKeyPath string   `koanf:"private_key_path"`
	BaseURL        string   `koanf:"base_url"`
	PreferredBase  string   `koanf:"preferred_base_branch"`
	Timeout        Duration `koanf:"timeout"`
}

// SentryConfig holds issue tracker credentials for evidence fetching.
type SentryConfig struct {
	AuthToken Secret `koanf:"auth_token"`
	Org       string `koanf:"org"`
	BaseURL   string `koanf:"base_url"`
}

// JobsConfig holds job store settings.
type JobsConfig struct {
	// DBPath is the SQLite database path. Empty selects the in-memory store.
	DBPath string `koanf:"db_path"`
}

// EntitiesConfig holds the entity snapshot source.
type EntitiesConfig struct {
	// SourcePath is an optional JSON fixture of alerts and incidents loaded
	// at startup. Empty starts with no entities.
	SourcePath string `koanf:"source_path"`
}

// TelemetryConfig holds OpenTelemetry export settings. Disabled by default;
// the service falls back to the no-op global providers.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `koanf:"endpoint"`

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `koanf:"sample_rate"`

	// Insecure disables TLS on the collector connection. Validation rejects
	// insecure connections to non-local endpoints.
	Insecure bool `koanf:"insecure"`

	// MetricsInterval is the periodic metric export interval.
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// TenantsConfig holds per-tenant feature overrides.
type TenantsConfig struct {
	Overrides map[string]TenantOverride `koanf:"overrides"`
}

// TenantOverride carries tenant-specific feature settings. Nil fields fall
// back to the global defaults.
type TenantOverride struct {
	RemediationEnabled *bool `koanf:"remediation_enabled"`
	MonthlyQuota       *int  `koanf:"monthly_quota"`
}

// Default returns config with production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Remediation: RemediationConfig{
			Enabled: false,
		},
		Anthropic: AnthropicConfig{
			Model:   "claude-haiku-4-5",
			BaseURL: "https://api.anthropic.com",
			Timeout: Duration(60 * time.Second),
		},
		GitHub: GitHubConfig{
			PreferredBase: "main",
			Timeout:       Duration(30 * time.Second),
		},
		Sentry: SentryConfig{
			BaseURL: "https://sentry.io/api/0",
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			SampleRate:      1.0,
			Insecure:        true,
			MetricsInterval: Duration(15 * time.Second),
		},
	}
}

// localEndpoint reports whether the host of an endpoint is a loopback address.
func localEndpoint(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	return host == "localhost" || host == "::1" || host == "127.0.0.1" || strings.HasPrefix(host, "127.")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in range 1-65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.GitHub.CreatePullRequests {
		if c.GitHub.AppID == "" {
			return fmt.Errorf("github app_id is required when create_pull_requests is enabled")
		}
		if !c.GitHub.PrivateKey.IsSet() && c.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("github private_key or private_key_path is required when create_pull_requests is enabled")
		}
	}
	if c.Anthropic.Timeout.Duration() <= 0 {
		return fmt.Errorf("anthropic timeout must be > 0")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
		if c.Telemetry.Insecure && !localEndpoint(c.Telemetry.Endpoint) {
			return fmt.Errorf("telemetry insecure is only allowed for local endpoints, got %q", c.Telemetry.Endpoint)
		}
	}
	return nil
}
