package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate up")
		}
		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		m, closeFn, err := initMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := m.MigrateDown(ctx); err != nil {
			return eris.Wrap(err, "migrate down")
		}
		zap.L().Info("migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, closeFn, err := initMigrator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		v, dirty, err := m.MigrationVersion(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "migrate version")
		}
		fmt.Fprintf(os.Stdout, "version %d (dirty: %t)\n", v, dirty)
		return nil
	},
}

func initMigrator(cmd *cobra.Command) (store.Migrator, func(), error) {
	if err := cfg.Validate("migrate"); err != nil {
		return nil, nil, err
	}
	st, err := initStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	m, ok := unwrapStore(st).(store.Migrator)
	if !ok {
		_ = st.Close()
		return nil, nil, eris.Errorf("store driver %s does not support schema inspection", cfg.Store.Driver)
	}
	return m, func() { _ = st.Close() }, nil
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
