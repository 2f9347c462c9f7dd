package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Config is the full configuration of a migration run.
type Config struct {
	// Source is the server being migrated from
	Source SourceConfig `yaml:"source" json:"source" mapstructure:"source"`
	// Destination is the repository being migrated to
	Destination DestinationConfig `yaml:"destination" json:"destination" mapstructure:"destination"`
	// Pool sizes the source handle pool
	Pool PoolConfig `yaml:"pool" json:"pool" mapstructure:"pool"`
	// Run selects what is converted and where results go
	Run RunConfig `yaml:"run" json:"run" mapstructure:"run"`
	// Observability controls logs, metrics and traces
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// SourceConfig describes the source repository.
type SourceConfig struct {
	// RepositoryType names the handle factory, "sql" unless extended
	RepositoryType string `yaml:"repository_type" json:"repository_type" mapstructure:"repository_type"`
	// URI of the source database; the "jdbc:" prefix is accepted
	URI string `yaml:"uri" json:"uri" mapstructure:"uri"`
	// ServerType is the source schema: ejabberd or ejabberd_new
	ServerType string `yaml:"server_type" json:"server_type" mapstructure:"server_type"`
	// Catalog is an optional YAML file overriding built-in queries
	Catalog         string        `yaml:"catalog" json:"catalog" mapstructure:"catalog"`
	ConnectAttempts uint          `yaml:"connect_attempts" json:"connect_attempts" mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay" json:"connect_delay" mapstructure:"connect_delay"`
}

// DestinationConfig describes the destination repository.
type DestinationConfig struct {
	URI string `yaml:"uri" json:"uri" mapstructure:"uri"`
	// VirtualHost is the destination's default domain. Users of the
	// single-host ejabberd schema are created in it.
	VirtualHost string `yaml:"virtual_host" json:"virtual_host" mapstructure:"virtual_host"`
}

// PoolConfig sizes the source handle pool.
type PoolConfig struct {
	Size int `yaml:"size" json:"size" mapstructure:"size"`
	// AcquireTimeout bounds waiting for a handle; zero waits forever
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout" mapstructure:"acquire_timeout"`
}

// RunConfig selects converters and outputs.
type RunConfig struct {
	// Converters restricts the run to the named converters
	Converters []string `yaml:"converters" json:"converters" mapstructure:"converters"`
	// Report is a path for the JSON run report, empty for none
	Report string `yaml:"report" json:"report" mapstructure:"report"`
}

// ObservabilityConfig controls diagnostics.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	// LogDir holds the diagnostic and status logs
	LogDir string `yaml:"log_dir" json:"log_dir" mapstructure:"log_dir"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// Tracing exports spans to stdout
	Tracing bool `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// Defaults
const (
	DefaultRepositoryType = "sql"
	DefaultPoolSize       = 10
)

// NewDefault returns a configuration with every default applied.
func NewDefault() *Config {
	return &Config{
		Source: SourceConfig{
			RepositoryType:  DefaultRepositoryType,
			ServerType:      "ejabberd",
			ConnectAttempts: 3,
			ConnectDelay:    500 * time.Millisecond,
		},
		Pool: PoolConfig{
			Size: DefaultPoolSize,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
			LogDir:    "logs",
		},
	}
}

// Validate checks that a run can be started with the configuration.
func (c *Config) Validate() error {
	var problems []string
	if c.Source.URI == "" {
		problems = append(problems, "source.uri is required")
	}
	if c.Source.RepositoryType == "" {
		problems = append(problems, "source.repository_type is required")
	}
	if c.Source.ServerType == "" {
		problems = append(problems, "source.server_type is required")
	}
	if c.Destination.URI == "" {
		problems = append(problems, "destination.uri is required")
	}
	if c.Pool.Size < 1 {
		problems = append(problems, "pool.size must be positive")
	}
	if c.Pool.AcquireTimeout < 0 {
		problems = append(problems, "pool.acquire_timeout cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid configuration: "+strings.Join(problems, "; ")).
			WithDetail("problems", problems)
	}
	return nil
}
