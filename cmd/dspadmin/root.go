package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dsp/store"
	"dsp/store/internal/config"
	"dsp/store/internal/logger"
	kvstore "dsp/store/kv"
	sqlstore "dsp/store/sql"
	"dsp/store/system"
)

// env holds what every subcommand loads before it runs.
type env struct {
	viper      *viper.Viper
	configFile string
	config     *config.Config
	log        *zap.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{viper: config.New()}
	cmd := &cobra.Command{
		Use:           "dspadmin",
		Short:         "Serve and administer the system REST resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&e.configFile, "config", "c", "", "configuration file (yaml, json or toml)")
	flags.String("log.level", "info", "log level")
	flags.String("log.format", "console", "log format, console or json")
	flags.String("db.driver", "sqlite", "database driver: sqlite, postgres, pgx, mysql or memory")
	flags.String("db.path", "dsp.db", "sqlite database file")
	flags.String("resources_file", "", "yaml file declaring extra resources")

	cmd.AddCommand(
		newServeCommand(e),
		newMigrateCommand(e),
		newResourcesCommand(e),
		newTokenCommand(e),
	)
	return cmd
}

func (e *env) load(cmd *cobra.Command) error {
	cfg, err := config.Load(e.viper, e.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	e.config, e.log = cfg, log
	return nil
}

// registry returns the system resources plus those of the resources file.
func (e *env) registry() (*store.Registry, error) {
	registry, err := system.NewRegistry()
	if err != nil {
		return nil, err
	}
	if file := e.config.ResourcesFile; file != "" {
		if err := store.LoadResourceFile(file, registry); err != nil {
			return nil, err
		}
		e.log.Info("Loaded resource file", zap.String("path", file))
	}
	return registry, nil
}

// backend opens the configured store. sql is nil for the memory backend.
type backend struct {
	store.Backend
	sql *sqlstore.Service
}

func (e *env) open(ctx context.Context) (*backend, error) {
	storeConfig := store.NewConfig(e.config.StoreOptions()...)
	if e.config.IsMemory() {
		svc, err := kvstore.OpenWithName(ctx, storeConfig.Type, &storeConfig, e.log)
		if err != nil {
			return nil, err
		}
		return &backend{Backend: svc}, nil
	}
	svc, err := sqlstore.OpenWithName(ctx, storeConfig.Type, &storeConfig, e.log)
	if err != nil {
		return nil, err
	}
	return &backend{Backend: svc, sql: svc}, nil
}

// records opens the backend and wraps it in a record store.
func (e *env) records(ctx context.Context) (*store.RecordStore, *backend, error) {
	registry, err := e.registry()
	if err != nil {
		return nil, nil, err
	}
	b, err := e.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRecordStore(b, registry, e.log), b, nil
}
