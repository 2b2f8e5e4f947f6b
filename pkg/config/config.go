// Package config provides the configuration system for civicsync.
//
// The configuration is organized into logical sections:
//   - Source: the Socrata endpoint and HTTP client settings
//   - Warehouse: which warehouse to load into and how to reach it
//   - Datasets: one entry per synchronized resource
//   - Log, Metrics, Tracing: observability
//   - Schedule: cron expression for the schedule command
//
// Example usage:
//
//	cfg := config.NewConfig()
//	cfg.Warehouse.ProjectID = "my-project"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DatasetMode selects how a dataset is synchronized.
type DatasetMode string

const (
	// ModeIncremental appends records newer than the stored watermark.
	ModeIncremental DatasetMode = "incremental"
	// ModeSnapshot replaces the table with a fresh full fetch on every run.
	ModeSnapshot DatasetMode = "snapshot"
)

// DefaultTimestampField is the ingestion-time field used for watermarks.
const DefaultTimestampField = "data_loaded_at"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the root configuration structure.
type Config struct {
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Datasets  []DatasetConfig `yaml:"datasets" mapstructure:"datasets"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`

	// RunTimeout bounds a single dataset run (0 = no limit)
	RunTimeout time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
}

// SourceConfig configures the Socrata API client.
type SourceConfig struct {
	// BaseURL is the resource root, e.g. https://data.sfgov.org/resource
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// AppToken is sent as X-App-Token when set
	AppToken  string        `yaml:"app_token" mapstructure:"app_token"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// WarehouseConfig selects and configures the destination warehouse.
type WarehouseConfig struct {
	// Kind is a registered warehouse kind: bigquery, sqlite or postgres
	Kind string `yaml:"kind" mapstructure:"kind"`

	// BigQuery
	ProjectID       string        `yaml:"project_id" mapstructure:"project_id"`
	DatasetID       string        `yaml:"dataset_id" mapstructure:"dataset_id"`
	Location        string        `yaml:"location" mapstructure:"location"`
	CredentialsFile string        `yaml:"credentials_file" mapstructure:"credentials_file"`
	StagingBucket   string        `yaml:"staging_bucket" mapstructure:"staging_bucket"`
	StagingPrefix   string        `yaml:"staging_prefix" mapstructure:"staging_prefix"`
	JobTimeout      time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`

	// SQL warehouses
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// DatasetConfig describes one synchronized resource.
type DatasetConfig struct {
	Name       string      `yaml:"name" mapstructure:"name"`
	ResourceID string      `yaml:"resource_id" mapstructure:"resource_id"`
	Table      string      `yaml:"table" mapstructure:"table"`
	Mode       DatasetMode `yaml:"mode" mapstructure:"mode"`
	PageLimit  int         `yaml:"page_limit" mapstructure:"page_limit"`

	TimestampField   string   `yaml:"timestamp_field" mapstructure:"timestamp_field"`
	TimestampColumns []string `yaml:"timestamp_columns" mapstructure:"timestamp_columns"`
	NaturalKey       []string `yaml:"natural_key" mapstructure:"natural_key"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`
	Encoding    string `yaml:"encoding" mapstructure:"encoding"`
	Development bool   `yaml:"development" mapstructure:"development"`
	File        string `yaml:"file" mapstructure:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// MetricsConfig configures metric pushing. Metrics are always collected;
// they leave the process only when PushgatewayURL is set.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// ScheduleConfig configures the schedule command.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// NewConfig creates a Config with defaults that reproduce the DataSF setup:
// two incremental datasets loaded into the DataSF_Project BigQuery dataset.
func NewConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:   "https://data.sfgov.org/resource",
			Timeout:   2 * time.Minute,
			UserAgent: "civicsync/1.0",
		},
		Warehouse: WarehouseConfig{
			Kind:          "bigquery",
			DatasetID:     "DataSF_Project",
			Location:      "US",
			StagingPrefix: "civicsync",
			JobTimeout:    10 * time.Minute,
		},
		Datasets: DefaultDatasets(),
		Log: LogConfig{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Job: "civicsync",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
		Schedule: ScheduleConfig{
			Cron: "0 6 * * *",
		},
		RunTimeout: 30 * time.Minute,
	}
}

// DefaultDatasets returns the two DataSF resources civicsync was built for.
func DefaultDatasets() []DatasetConfig {
	return []DatasetConfig{
		{
			Name:             "real_estate_transactions",
			ResourceID:       "wv5m-vpq2",
			Table:            "real_estate_transactions",
			Mode:             ModeIncremental,
			PageLimit:        50000,
			TimestampField:   DefaultTimestampField,
			TimestampColumns: []string{DefaultTimestampField},
			NaturalKey: []string{
				"parcel_number", "closed_roll_year", "property_location",
				"assessed_land_value", "assessed_improvement_value",
			},
		},
		{
			Name:             "building_permits",
			ResourceID:       "i98e-djp9",
			Table:            "building_permits",
			Mode:             ModeIncremental,
			PageLimit:        100000,
			TimestampField:   DefaultTimestampField,
			TimestampColumns: []string{DefaultTimestampField},
			NaturalKey: []string{
				"permit_number", "filed_date", "issued_date", "block", "lot",
				"street_number", "street_name", "estimated_cost", "revised_cost",
			},
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout cannot be negative")
	}
	if err := c.Warehouse.Validate(); err != nil {
		return err
	}
	if len(c.Datasets) == 0 {
		return fmt.Errorf("at least one dataset is required")
	}
	seen := make(map[string]struct{}, len(c.Datasets))
	for i := range c.Datasets {
		ds := &c.Datasets[i]
		if err := ds.Validate(); err != nil {
			return fmt.Errorf("datasets[%d]: %w", i, err)
		}
		if _, dup := seen[ds.Name]; dup {
			return fmt.Errorf("datasets[%d]: duplicate dataset name %q", i, ds.Name)
		}
		seen[ds.Name] = struct{}{}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout cannot be negative")
	}
	return nil
}

// Validate checks the warehouse section.
func (w *WarehouseConfig) Validate() error {
	switch w.Kind {
	case "bigquery":
		if w.DatasetID == "" {
			return fmt.Errorf("warehouse.dataset_id is required for bigquery")
		}
	case "sqlite", "postgres":
		if w.DSN == "" {
			return fmt.Errorf("warehouse.dsn is required for %s", w.Kind)
		}
	case "":
		return fmt.Errorf("warehouse.kind is required")
	}
	// Other kinds are checked against the registry at startup.
	return nil
}

// Validate checks a dataset entry and fills derived defaults.
func (d *DatasetConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if d.Table == "" {
		d.Table = d.Name
	}
	if !identifierRe.MatchString(d.Table) {
		return fmt.Errorf("table %q is not a valid identifier", d.Table)
	}
	if d.Mode == "" {
		d.Mode = ModeIncremental
	}
	d.Mode = DatasetMode(strings.ToLower(string(d.Mode)))
	if d.Mode != ModeIncremental && d.Mode != ModeSnapshot {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeIncremental, ModeSnapshot, d.Mode)
	}
	if d.PageLimit <= 0 {
		return fmt.Errorf("page_limit must be positive")
	}
	if d.TimestampField == "" {
		d.TimestampField = DefaultTimestampField
	}
	if !identifierRe.MatchString(d.TimestampField) {
		return fmt.Errorf("timestamp_field %q is not a valid identifier", d.TimestampField)
	}
	return nil
}

// Dataset returns the dataset called name.
func (c *Config) Dataset(name string) (*DatasetConfig, error) {
	for i := range c.Datasets {
		if c.Datasets[i].Name == name {
			return &c.Datasets[i], nil
		}
	}
	return nil, fmt.Errorf("unknown dataset %q", name)
}

// DatasetNames returns the configured dataset names in order.
func (c *Config) DatasetNames() []string {
	names := make([]string, len(c.Datasets))
	for i, ds := range c.Datasets {
		names[i] = ds.Name
	}
	return names
}
