// Package config loads the loader's settings.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file,
// an optional .env file, process environment, then explicitly set CLI flags.
package config

import (
	"eavetl/internal/eav"
)

// Defaults.
const (
	DefaultWorkbook       = "data.xlsx"
	DefaultDBKind         = "postgres"
	DefaultMetricsBackend = "none"
	DefaultMetricsJob     = "eavetl"
	DefaultEnvFile        = ".env"
)

// Config is the full run configuration.
type Config struct {
	Workbook  string     `koanf:"workbook"`
	BatchSize int        `koanf:"batch_size"`
	Verbose   bool       `koanf:"verbose"`
	DB        DB         `koanf:"db"`
	Schema    eav.Schema `koanf:"schema"`
	Metrics   Metrics    `koanf:"metrics"`
}

// DB describes the target store. DSN, when set, wins over the parts.
type DB struct {
	Kind     string `koanf:"kind"`
	DSN      string `koanf:"dsn"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Database string `koanf:"database"`

	// Params are extra driver parameters in URL query form (k=v&k2=v2).
	Params string `koanf:"params"`
}

// Metrics selects and configures the metrics backend.
type Metrics struct {
	// Backend is one of "none", "datadog" or "pushgateway".
	Backend        string `koanf:"backend"`
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`

	// Tags are comma-separated Datadog tags, e.g. "team:data,region:eu".
	Tags string `koanf:"tags"`
}

func defaults() map[string]any {
	s := eav.DefaultSchema()
	return map[string]any{
		"workbook":               DefaultWorkbook,
		"batch_size":             eav.DefaultBatchSize,
		"verbose":                false,
		"db.kind":                DefaultDBKind,
		"schema.attribute_table": s.AttributeTable,
		"schema.fact_table":      s.FactTable,
		"metrics.backend":        DefaultMetricsBackend,
		"metrics.job":            DefaultMetricsJob,
	}
}
