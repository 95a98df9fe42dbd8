package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dendrascience/spraydryfs/internal/config"
	"github.com/dendrascience/spraydryfs/internal/fixture"
	"github.com/dendrascience/spraydryfs/internal/logging"
	"github.com/dendrascience/spraydryfs/internal/metrics"
	"github.com/dendrascience/spraydryfs/resolver"
	"github.com/dendrascience/spraydryfs/store"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags every subcommand shares.
type globalOptions struct {
	configPath string
	storePath  string
	logLevel   string
	noColor    bool
}

func (g *globalOptions) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file")
	f.StringVarP(&g.storePath, "store", "s", "", "Path to the record store (overrides store.path)")
	f.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log.level)")
	f.BoolVar(&g.noColor, "no-color", false, "Disable colored log output")
}

// app is the loaded configuration plus the process-wide logger and metrics.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

func (g *globalOptions) load(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.noColor {
		cfg.Log.NoColor = true
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewWriter(cmd.ErrOrStderr(), level, cfg.Log.NoColor)
	slog.SetDefault(logger)
	return &app{cfg: cfg, log: logger, metrics: metrics.New()}, nil
}

func (a *app) openStack() (*fixture.Stack, error) {
	if a.cfg.Store.Path == "" && !a.cfg.Store.InMemory {
		return nil, fmt.Errorf("no store configured: pass --store or set store.path")
	}
	return fixture.OpenStack(fixture.StackOptions{
		Store: store.Options{
			Path:       a.cfg.Store.Path,
			InMemory:   a.cfg.Store.InMemory,
			SyncWrites: a.cfg.Store.SyncWrites,
			Logger:     a.log,
		},
		ChunkCacheMB: a.cfg.Store.ChunkCacheMB,
		Logger:       a.log,
		Metrics:      a.metrics,
	})
}

func (a *app) resolver(s *fixture.Stack) *resolver.Resolver {
	return resolver.New(s.Registry, s.Dirs, s.Files, resolver.Options{
		MaxDepth:         a.cfg.Mount.MaxDepth,
		PathCacheEntries: a.cfg.Mount.PathCacheEntries,
		Logger:           a.log,
		Metrics:          a.metrics,
	})
}

// openSession pins root at seq, or at its latest version when seq is 0.
func (a *app) openSession(ctx context.Context, s *fixture.Stack, root string, seq uint64) (*resolver.Session, error) {
	sel := resolver.Latest()
	if seq > 0 {
		sel = resolver.Pinned(seq)
	}
	return a.resolver(s).OpenMount(ctx, root, sel)
}
