package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jhlu2019/GustoBot-sub000/internal/migration"
)

// =============================================================================
// 数据库迁移命令
// =============================================================================

var migrateFlags struct {
	dbType string
	dbURL  string
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage session database migrations",
		Long: `Apply or inspect the embedded migrations for the session database
(sessions, messages, history_snapshots and, on postgres, searchable_documents).

The connection comes from --db-type/--db-url when both are given,
otherwise from the database section of the config.`,
	}
	cmd.PersistentFlags().StringVar(&migrateFlags.dbType, "db-type", "", "database type: postgres, mysql, sqlite")
	cmd.PersistentFlags().StringVar(&migrateFlags.dbURL, "db-url", "", "database connection URL")

	cmd.AddCommand(
		migrateSubcommand("up", "Apply all pending migrations", cobra.NoArgs,
			func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunUp(ctx) }),
		migrateSubcommand("down", "Roll back the last migration", cobra.NoArgs,
			func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunDown(ctx) }),
		migrateSubcommand("status", "Show migration status", cobra.NoArgs,
			func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunStatus(ctx) }),
		migrateSubcommand("version", "Show the current migration version", cobra.NoArgs,
			func(ctx context.Context, cli *migration.CLI, _ []string) error { return cli.RunVersion(ctx) }),
		migrateSubcommand("force <version>", "Force the recorded version (clears the dirty flag)", cobra.ExactArgs(1),
			func(ctx context.Context, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return cli.RunForce(ctx, v)
			}),
	)
	return cmd
}

func migrateSubcommand(use, short string, args cobra.PositionalArgs, run func(context.Context, *migration.CLI, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := createMigrator()
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer migrator.Close()

			cli := migration.NewCLI(migrator)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd.Context(), cli, args)
		},
	}
}

func createMigrator() (*migration.DefaultMigrator, error) {
	if migrateFlags.dbType != "" && migrateFlags.dbURL != "" {
		return migration.NewMigratorFromURL(migrateFlags.dbType, migrateFlags.dbURL)
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if migrateFlags.dbType != "" {
		cfg.Database.Driver = migrateFlags.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}
