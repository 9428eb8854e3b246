// Package config loads the pipeline's YAML configuration and applies the
// defaults and validation every entry point shares.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for a warehouse run.
type Config struct {
	InputFiles InputFiles `yaml:"input_files"`
	Database   Database   `yaml:"database"`
	Metrics    Metrics    `yaml:"metrics"`

	// BusinessRules is reserved for rule overrides. The pipeline carries it
	// opaquely so existing config files keep parsing.
	BusinessRules map[string]any `yaml:"business_rules"`
}

// InputFiles names the source files for one run. Both categories are
// optional; an unconfigured category is skipped, not failed.
type InputFiles struct {
	// Sales maps a region label to a source file path. The label appears in
	// logs only; region detection reads the path itself.
	Sales map[string]string `yaml:"sales"`

	// Forecast is the forecast workbook or delimited file, if any.
	Forecast string `yaml:"forecast"`
}

// Database selects the warehouse backend.
type Database struct {
	// Kind is the registered backend name: sqlite, postgres or mssql.
	Kind string `yaml:"kind"`

	// DSN is the backend connection string. Environment references like
	// ${WAREHOUSE_DSN} are expanded at run time, not load time.
	DSN string `yaml:"dsn"`

	// Path is sqlite convenience: used as the DSN when DSN is empty.
	Path string `yaml:"path"`
}

// Metrics selects and configures the metrics exporter.
type Metrics struct {
	// Backend is "none" or "datadog".
	Backend string `yaml:"backend"`

	// Job becomes the job tag on every metric.
	Job string `yaml:"job"`

	// Tags are extra exporter tags as CSV, e.g. "env:dev,service:salesetl".
	Tags string `yaml:"tags"`

	// FlushSeconds is the exporter flush interval. <=0 means the default.
	FlushSeconds int `yaml:"flush_seconds"`
}

// Load reads and parses the YAML file at path and applies defaults.
// Validation is separate so callers can apply flag overrides in between.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses raw YAML and applies defaults.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Kind == "" {
		c.Database.Kind = "sqlite"
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "salesetl"
	}
	if c.Metrics.FlushSeconds <= 0 {
		c.Metrics.FlushSeconds = 60
	}
}

// Validate reports the first problem that would make a run pointless to
// start. It runs after flag overrides, so overridden values are what get
// checked.
func (c *Config) Validate() error {
	switch c.Database.Kind {
	case "sqlite", "postgres", "mssql":
	default:
		return fmt.Errorf("database.kind %q is not one of sqlite, postgres, mssql", c.Database.Kind)
	}
	if c.Database.StorageDSN() == "" {
		return fmt.Errorf("database.dsn or database.path must be set")
	}
	for region, path := range c.InputFiles.Sales {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("input_files.sales[%s]: empty path", region)
		}
	}
	switch c.Metrics.Backend {
	case "none", "datadog":
	default:
		return fmt.Errorf("metrics.backend %q is not one of none, datadog", c.Metrics.Backend)
	}
	return nil
}

// StorageDSN resolves the effective DSN: the explicit dsn wins, the sqlite
// path is the fallback.
func (d Database) StorageDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return d.Path
}

// SalesRegions returns the configured region labels in sorted order so runs
// iterate the input files deterministically.
func (f InputFiles) SalesRegions() []string {
	regions := make([]string, 0, len(f.Sales))
	for region := range f.Sales {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// HasSales reports whether any sales inputs are configured.
func (f InputFiles) HasSales() bool { return len(f.Sales) > 0 }

// HasForecast reports whether a forecast input is configured.
func (f InputFiles) HasForecast() bool { return f.Forecast != "" }

// FlushEvery converts the configured flush interval to a duration.
func (m Metrics) FlushEvery() time.Duration {
	return time.Duration(m.FlushSeconds) * time.Second
}
