package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Environment prefixes. DB_* names follow the usual container conventions
// (DB_USER, DB_PASSWORD, DB_HOST, DB_PORT, DB_DATABASE). Everything else is
// EAVETL_*, with "__" separating nested keys:
//
//	EAVETL_BATCH_SIZE=500            -> batch_size
//	EAVETL_METRICS__BACKEND=datadog  -> metrics.backend
const (
	dbEnvPrefix  = "DB_"
	appEnvPrefix = "EAVETL_"
)

// envAliases are the legacy unprefixed names. The EAVETL_ form wins when
// both are set.
var envAliases = map[string]string{
	"EXCEL_FILE":     "workbook",
	"EAV_BATCH_SIZE": "batch_size",
}

// flagKeys maps CLI flag names onto config keys. Flags not listed here
// (e.g. --config) are not configuration values.
var flagKeys = map[string]string{
	"workbook":        "workbook",
	"batch-size":      "batch_size",
	"verbose":         "verbose",
	"db-kind":         "db.kind",
	"db-dsn":          "db.dsn",
	"metrics-backend": "metrics.backend",
}

// LoadOptions names the optional sources.
type LoadOptions struct {
	// ConfigFile is a YAML (or JSON) file. It must exist when set.
	ConfigFile string

	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string

	// Flags are applied last; only flags the user actually set count.
	Flags *pflag.FlagSet
}

// Load merges all sources into a Config. It does not validate; see Validate.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.EnvFile != "" {
		if err := loadDotenv(k, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(dbEnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load DB_ env: %w", err)
	}
	if err := k.Load(env.Provider("", ".", aliasKey), nil); err != nil {
		return nil, fmt.Errorf("load env aliases: %w", err)
	}
	if err := k.Load(env.Provider(appEnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load EAVETL_ env: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DB.Kind = NormalizeKind(cfg.DB.Kind)
	return &cfg, nil
}

// loadDotenv reads a dotenv file and merges the variables it defines under
// the same names the environment uses. A missing file is not an error.
func loadDotenv(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	dk := koanf.New(".")
	if err := dk.Load(file.Provider(path), dotenv.Parser()); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	vals := make(map[string]any)
	all := dk.All()
	for name, v := range all {
		if key := aliasKey(name); key != "" {
			vals[key] = v
		}
	}
	for name, v := range all {
		if _, alias := envAliases[name]; alias {
			continue
		}
		if key := envKey(name); key != "" {
			vals[key] = v
		}
	}
	if err := k.Load(confmap.Provider(vals, "."), nil); err != nil {
		return fmt.Errorf("merge env file %s: %w", path, err)
	}
	return nil
}

// envKey maps an environment variable name onto a config key, or "" when the
// variable is not one of ours.
func envKey(name string) string {
	switch {
	case strings.HasPrefix(name, dbEnvPrefix):
		return "db." + strings.ToLower(strings.TrimPrefix(name, dbEnvPrefix))
	case strings.HasPrefix(name, appEnvPrefix):
		rest := strings.ToLower(strings.TrimPrefix(name, appEnvPrefix))
		return strings.ReplaceAll(rest, "__", ".")
	default:
		return aliasKey(name)
	}
}

// aliasKey maps a legacy variable name onto its config key, or "".
func aliasKey(name string) string { return envAliases[name] }

// NormalizeKind maps accepted aliases onto registered storage kinds.
// Unknown values are returned lowercased for Validate to report.
func NormalizeKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mssql", "sqlserver":
		return "mssql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mysql", "mariadb":
		return "mysql"
	case "duckdb":
		return "duckdb"
	default:
		return s
	}
}
