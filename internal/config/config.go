// Package config loads and validates the pairsync YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Valid mode and policy spellings. Parsing into engine types happens at
// wiring time; config only guards the vocabulary.
var (
	validModes    = map[string]bool{"refresh": true, "one-way": true, "two-way": true}
	validPolicies = map[string]bool{"skip": true, "ask": true, "replaceUnconditionally": true}
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Conduits lists the configured source/sink pairings. At least one is
	// required.
	Conduits []ConduitConfig `yaml:"conduits"`

	// PollInterval controls how often daemon mode re-runs every conduit.
	// Minimum 10s, maximum 24h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ResolverWorkers bounds how many conflict decisions apply concurrently.
	// Defaults to 3.
	ResolverWorkers int `yaml:"resolver_workers"`

	// StorePath overrides the relationship database location. Defaults to
	// ~/.local/share/pairsync/relationships.db.
	StorePath string `yaml:"store_path"`

	// Log configures optional file logging. Omit the block to log to stderr
	// only.
	Log *LogConfig `yaml:"log,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ConduitConfig describes one configured conduit.
type ConduitConfig struct {
	// Name identifies the conduit in logs, events, and status output. Must
	// be unique.
	Name string `yaml:"name"`

	// Source is the provider items flow from.
	Source ProviderConfig `yaml:"source"`

	// Sinks are the providers items flow to. At least one is required.
	Sinks []ProviderConfig `yaml:"sinks"`

	// Mode is one of "refresh", "one-way", or "two-way". Defaults to
	// "two-way".
	Mode string `yaml:"mode"`

	// ConflictPolicy governs diverged or deleted tracked items: "skip",
	// "ask", or "replaceUnconditionally". Defaults to "ask".
	ConflictPolicy string `yaml:"conflict_policy"`

	// MissingPolicy governs items present on only one side: same vocabulary
	// as ConflictPolicy. Defaults to "replaceUnconditionally".
	MissingPolicy string `yaml:"missing_policy"`
}

// ProviderConfig names a provider type plus its instance options.
type ProviderConfig struct {
	// Type selects the provider implementation from the registry, e.g.
	// "folder".
	Type string `yaml:"type"`

	// Name is the instance name, unique per provider type. Defaults to the
	// conduit name.
	Name string `yaml:"name"`

	// Options holds provider-specific settings, e.g. {"path": "~/notes"}.
	Options map[string]string `yaml:"options,omitempty"`
}

// LogConfig holds optional rotating-file logging settings.
type LogConfig struct {
	// Path is the log file to write. Required when the block is present.
	Path string `yaml:"path"`

	// MaxSizeMB rotates the file once it exceeds this size. Defaults to 20.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is how many rotated files to keep. Defaults to 3.
	MaxBackups int `yaml:"max_backups"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "pairsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/pairsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pairsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if len(c.Conduits) == 0 {
		return fmt.Errorf("conduits must contain at least one entry")
	}

	seen := make(map[string]bool, len(c.Conduits))
	for i := range c.Conduits {
		cc := &c.Conduits[i]
		if cc.Name == "" {
			return fmt.Errorf("conduits[%d] has no name", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("duplicate conduit name %q", cc.Name)
		}
		seen[cc.Name] = true

		if err := cc.Source.validate(cc.Name); err != nil {
			return fmt.Errorf("conduit %q source: %w", cc.Name, err)
		}
		if len(cc.Sinks) == 0 {
			return fmt.Errorf("conduit %q has no sinks", cc.Name)
		}
		for j := range cc.Sinks {
			if err := cc.Sinks[j].validate(fmt.Sprintf("%s-sink%d", cc.Name, j)); err != nil {
				return fmt.Errorf("conduit %q sinks[%d]: %w", cc.Name, j, err)
			}
		}

		if cc.Mode == "" {
			cc.Mode = "two-way"
		}
		if !validModes[cc.Mode] {
			return fmt.Errorf("conduit %q has unknown mode %q (want refresh, one-way, or two-way)", cc.Name, cc.Mode)
		}

		if cc.ConflictPolicy == "" {
			cc.ConflictPolicy = "ask"
		}
		if !validPolicies[cc.ConflictPolicy] {
			return fmt.Errorf("conduit %q has unknown conflict_policy %q", cc.Name, cc.ConflictPolicy)
		}

		if cc.MissingPolicy == "" {
			cc.MissingPolicy = "replaceUnconditionally"
		}
		if !validPolicies[cc.MissingPolicy] {
			return fmt.Errorf("conduit %q has unknown missing_policy %q", cc.Name, cc.MissingPolicy)
		}
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.ResolverWorkers == 0 {
		c.ResolverWorkers = 3
	}
	if c.ResolverWorkers < 1 || c.ResolverWorkers > 64 {
		return fmt.Errorf("resolver_workers %d out of range (want 1-64)", c.ResolverWorkers)
	}

	if c.Log != nil {
		if c.Log.Path == "" {
			return fmt.Errorf("log.path is required when the log block is present")
		}
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 20
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when the telemetry block is present")
		}
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = "pairsync"
		}
	}

	return nil
}

// validate fills in the provider's defaulted name and checks required
// fields.
func (p *ProviderConfig) validate(defaultName string) error {
	if p.Type == "" {
		return fmt.Errorf("type is required")
	}
	if p.Name == "" {
		p.Name = defaultName
	}
	return nil
}
