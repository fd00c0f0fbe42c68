package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/kirogate/internal/config"
	"github.com/nextlevelbuilder/kirogate/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	return cmd
}

func openDatabase() (*sql.DB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlite.Migrate(db); err != nil {
				return err
			}
			slog.Info("migration complete")
			return nil
		},
	}
}
