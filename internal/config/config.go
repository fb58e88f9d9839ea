// Package config loads pgwarden.yaml, the project file that carries
// connection and resilience settings, and applies it onto a pgwarden.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist.
// Callers can check for this with errors.Is(err, config.ErrConfigNotFound).
var ErrConfigNotFound = errors.New("config file not found")

type ConnectionConfig struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Address        string            `yaml:"address,omitempty"`
	Username       string            `yaml:"username"`
	Password       string            `yaml:"password,omitempty"`
	Database       string            `yaml:"database"`
	Schema         string            `yaml:"schema,omitempty"`
	SSLMode        string            `yaml:"sslmode"`
	Options        map[string]string `yaml:"options,omitempty"`
	AuthMethod     string            `yaml:"auth_method,omitempty"`
	AzureTenantID  string            `yaml:"azure_tenant_id,omitempty"`
	AzureClientID  string            `yaml:"azure_client_id,omitempty"`
	AWSRegion      string            `yaml:"aws_region,omitempty"`
	GoogleInstance string            `yaml:"google_instance,omitempty"`
}

// ResilienceConfig uses pointers so an explicit 0 ("disabled") is told
// apart from an absent key.
type ResilienceConfig struct {
	ConnectRetries        *int    `yaml:"connect_retries,omitempty"`
	Retries               *int    `yaml:"retries,omitempty"`
	DelayedPrepares       *int    `yaml:"delayed_prepares,omitempty"`
	MaxPreparedStatements *int    `yaml:"max_prepared_statements,omitempty"`
	ConnectionRecycleTime *int    `yaml:"connection_recycle_time,omitempty"` // seconds
	EmulatePrepares       *bool   `yaml:"emulate_prepares,omitempty"`
	ConnectTimeout        *string `yaml:"connect_timeout,omitempty"`
	ReadTimeout           *string `yaml:"read_timeout,omitempty"`
	WriteTimeout          *string `yaml:"write_timeout,omitempty"`
}

type ProjectConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

const ConfigFileName = "pgwarden.yaml"

func Load(sourcePath string) (*ProjectConfig, error) {
	configPath := filepath.Join(sourcePath, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

// Apply copies every value set in the file onto cfg. Unset values leave
// cfg untouched, so defaults and earlier sources survive.
func (p *ProjectConfig) Apply(cfg *pgwarden.Config) error {
	c := p.Connection
	setString(&cfg.Host, c.Host)
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	setString(&cfg.Address, c.Address)
	setString(&cfg.Username, c.Username)
	setString(&cfg.Password, c.Password)
	setString(&cfg.Database, c.Database)
	setString(&cfg.Schema, c.Schema)
	setString(&cfg.SSLMode, c.SSLMode)
	setString(&cfg.AzureTenantID, c.AzureTenantID)
	setString(&cfg.AzureClientID, c.AzureClientID)
	setString(&cfg.AWSRegion, c.AWSRegion)
	setString(&cfg.GoogleInstance, c.GoogleInstance)
	if len(c.Options) > 0 {
		if cfg.Options == nil {
			cfg.Options = make(map[string]string, len(c.Options))
		}
		for k, v := range c.Options {
			cfg.Options[k] = v
		}
	}
	if c.AuthMethod != "" {
		m, err := pgwarden.ParseAuthMethod(c.AuthMethod)
		if err != nil {
			return err
		}
		cfg.AuthMethod = m
	}

	r := p.Resilience
	setInt(&cfg.ConnectRetries, r.ConnectRetries)
	setInt(&cfg.Retries, r.Retries)
	setInt(&cfg.DelayedPrepares, r.DelayedPrepares)
	setInt(&cfg.MaxPreparedStatements, r.MaxPreparedStatements)
	if r.ConnectionRecycleTime != nil {
		cfg.ConnectionRecycleTime = time.Duration(*r.ConnectionRecycleTime) * time.Second
	}
	if r.EmulatePrepares != nil {
		v := *r.EmulatePrepares
		cfg.EmulatePrepares = &v
	}

	var errs []error
	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"connect_timeout", r.ConnectTimeout, &cfg.ConnectTimeout},
		{"read_timeout", r.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", r.WriteTimeout, &cfg.WriteTimeout},
	} {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", d.name, *d.raw, pgwarden.ErrInvalidConfig))
			continue
		}
		*d.dst = v
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
