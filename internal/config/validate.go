package config

import (
	"fmt"
	"strings"

	"eavetl/internal/storage"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the config key it concerns.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg and returns every issue found, in the order found.
// Storage kinds are checked against the registry, so backends must be
// imported first.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.Workbook) == "" {
		add(SeverityError, "workbook", "is required")
	}
	if cfg.BatchSize < 1 {
		add(SeverityError, "batch_size", "must be >= 1, got %d", cfg.BatchSize)
	}

	kinds := storage.Kinds()
	if !containsString(kinds, cfg.DB.Kind) {
		add(SeverityError, "db.kind", "unknown kind %q (registered: %s)", cfg.DB.Kind, strings.Join(kinds, ", "))
	} else if _, err := cfg.DB.ResolveDSN(); err != nil {
		add(SeverityError, "db.dsn", "%v", err)
	}
	if cfg.DB.DSN != "" && (cfg.DB.Host != "" || cfg.DB.User != "") {
		add(SeverityWarning, "db.dsn", "dsn is set; host/user/password parts are ignored")
	}

	if err := cfg.Schema.Validate(); err != nil {
		add(SeverityError, "schema", "%v", err)
	}

	switch cfg.Metrics.Backend {
	case "", DefaultMetricsBackend, "datadog":
	case "pushgateway":
		if strings.TrimSpace(cfg.Metrics.PushgatewayURL) == "" {
			add(SeverityError, "metrics.pushgateway_url", "is required for the pushgateway backend")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none, datadog or pushgateway)", cfg.Metrics.Backend)
	}

	return issues
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
