// Package config loads the flowctl configuration: defaults, then
// flowctl.yaml, then FLOWCTL_ environment variables, then command-line
// flags, each layer overriding the one before it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/datakit-labs/flowctl/pkg/adapter"
)

// Config file names, checked in order.
const (
	FileName    = "flowctl.yaml"
	FileNameAlt = "flowctl.yml"
)

// EnvPrefix is the environment variable namespace:
// FLOWCTL_CATALOG_DIR overrides catalog_dir, FLOWCTL_TARGET_SCHEMA
// overrides target.schema.
const EnvPrefix = "FLOWCTL_"

// maxUpwardSearchLevels bounds the upward config file search.
const maxUpwardSearchLevels = 10

// Defaults applied before any other layer.
const (
	DefaultCatalogDir   = "catalog"
	DefaultSystemType   = "framework"
	DefaultWorkers      = 4
	DefaultWaitSeconds  = 300
	DefaultSweepChecks  = 3
	DefaultSweepSeconds = 600
)

// Config is the fully layered flowctl configuration.
type Config struct {
	CatalogDir string `koanf:"catalog_dir"` // root holding catalog/, pipeline/, function/
	SystemType string `koanf:"system_type"`
	Database   string `koanf:"database"` // bound into {database_name}

	Target adapter.Config `koanf:"target"`

	Workers     int  `koanf:"workers"`
	SLA         int  `koanf:"sla"`
	WaitSeconds int  `koanf:"wait_seconds"` // PROCESSING re-check interval
	Verbose     bool `koanf:"verbose"`

	SweepChecks  int `koanf:"sweep_checks"`
	SweepSeconds int `koanf:"sweep_seconds"`

	// Schedule maps cron group names to cron expressions.
	Schedule map[string]string `koanf:"schedule"`

	// Params are extra {placeholder} bindings for statements.
	Params map[string]string `koanf:"params"`

	// FileUsed records which config file was loaded, if any.
	FileUsed string `koanf:"-"`
}

// Load layers the configuration. cfgFile forces a specific config file;
// empty means search the current directory and then upward. flags may be
// nil; only flags explicitly set by the caller are applied.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"catalog_dir":   DefaultCatalogDir,
		"system_type":   DefaultSystemType,
		"workers":       DefaultWorkers,
		"wait_seconds":  DefaultWaitSeconds,
		"sweep_checks":  DefaultSweepChecks,
		"sweep_seconds": DefaultSweepSeconds,
		"verbose":       false,
		"target.type":   "sqlite",
		"target.path":   ":memory:",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// FLOWCTL_TARGET_SCHEMA -> target.schema
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "target_", "target.", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.FileUsed = used

	if used != "" && !filepath.IsAbs(cfg.CatalogDir) {
		cfg.CatalogDir = filepath.Join(filepath.Dir(used), cfg.CatalogDir)
	}
	return &cfg, nil
}

// findConfigFile resolves the config file: an explicit path wins,
// otherwise search the working directory and then upward.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := cwd
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range []string{FileName, FileNameAlt} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
