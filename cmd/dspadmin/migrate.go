package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dsp/store"
	sqlstore "dsp/store/sql"
)

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.sql == nil {
				return store.NewConfigErrorForField("db.driver", e.config.DB.Driver, "the memory backend has no schema to migrate")
			}

			m := sqlstore.NewMigrator(b.sql, e.log)
			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			version, err := m.Version(ctx)
			if err != nil {
				return err
			}
			if applied == 0 {
				pterm.Info.Printfln("Schema is up to date at version %d", version)
				return nil
			}
			pterm.Success.Printfln("Applied %d migrations, schema is at version %d", applied, version)
			return nil
		},
	}
}
