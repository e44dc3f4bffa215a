package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/catalog"
	"github.com/datakit-labs/flowctl/internal/config"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/node"
	"github.com/datakit-labs/flowctl/internal/runtime"
	"github.com/datakit-labs/flowctl/internal/statement"
	"github.com/datakit-labs/flowctl/pkg/adapter"

	// adapters register themselves on import
	_ "github.com/datakit-labs/flowctl/pkg/adapters/duckdb"
	_ "github.com/datakit-labs/flowctl/pkg/adapters/postgres"
	_ "github.com/datakit-labs/flowctl/pkg/adapters/sqlite"
)

type configKey struct{}

// WithConfig stores the loaded config on the command context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		CatalogDir: config.DefaultCatalogDir,
		SystemType: config.DefaultSystemType,
		Workers:    config.DefaultWorkers,
	}
}

// CommandContext bundles everything a command needs: the loaded config,
// a connected adapter, the control store, the catalog registry and the
// task runtime.
type CommandContext struct {
	Cfg      *config.Config
	Adapter  adapter.Adapter
	Store    *control.Store
	Registry *catalog.Registry
	Runtime  *runtime.Runtime
	Logger   *slog.Logger
}

// NewCommandContext connects to the target database and loads the
// catalog. The returned cleanup closes the connection.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := GetConfig(cmd.Context())
	logger := newLogger(cfg.Verbose)

	ad, err := adapter.New(cfg.Target, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := ad.Connect(cmd.Context(), cfg.Target); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s target: %w", cfg.Target.Type, err)
	}
	cleanup := func() { _ = ad.Close() }

	reg, err := catalog.NewRegistry(catalog.NewLoader(cfg.CatalogDir, logger), logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	store := control.NewStore(ad, cfg.Target.Schema, logger)
	opts := node.Options{
		Schema:     cfg.Target.Schema,
		Database:   cfg.Database,
		SystemType: cfg.SystemType,
		SLA:        cfg.SLA,
		Params:     statement.Vars(cfg.Params),
	}

	rt := runtime.New(store, reg, opts, int64(cfg.Workers), logger)
	if cfg.WaitSeconds > 0 {
		rt.Pipeline().WaitInterval = time.Duration(cfg.WaitSeconds) * time.Second
	}

	return &CommandContext{
		Cfg:      cfg,
		Adapter:  ad,
		Store:    store,
		Registry: reg,
		Runtime:  rt,
		Logger:   logger,
	}, cleanup, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// today is the default run date for commands that take none.
func today() string {
	return time.Now().Format(control.DateLayout)
}
