package config

import (
	"bytes"
	"strings"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. XMPPCONV_SOURCE_URI.
const EnvPrefix = "XMPPCONV"

// NewViper returns a viper instance carrying every default of NewDefault
// and reading environment overrides under EnvPrefix.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := NewDefault()
	v.SetDefault("source.repository_type", d.Source.RepositoryType)
	v.SetDefault("source.uri", d.Source.URI)
	v.SetDefault("source.server_type", d.Source.ServerType)
	v.SetDefault("source.catalog", d.Source.Catalog)
	v.SetDefault("source.connect_attempts", d.Source.ConnectAttempts)
	v.SetDefault("source.connect_delay", d.Source.ConnectDelay)
	v.SetDefault("destination.uri", d.Destination.URI)
	v.SetDefault("destination.virtual_host", d.Destination.VirtualHost)
	v.SetDefault("pool.size", d.Pool.Size)
	v.SetDefault("pool.acquire_timeout", d.Pool.AcquireTimeout)
	v.SetDefault("run.converters", d.Run.Converters)
	v.SetDefault("run.report", d.Run.Report)
	v.SetDefault("observability.log_level", d.Observability.LogLevel)
	v.SetDefault("observability.log_format", d.Observability.LogFormat)
	v.SetDefault("observability.log_dir", d.Observability.LogDir)
	v.SetDefault("observability.metrics_addr", d.Observability.MetricsAddr)
	v.SetDefault("observability.tracing", d.Observability.Tracing)
	return v
}

// FromViper builds a Config from v. When path is not empty the YAML file
// is read, with ${VAR} references substituted, beneath flags and
// environment overrides already bound to v. The result is validated.
func FromViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		data, err := Read(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
