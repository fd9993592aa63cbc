package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateFlags 覆盖配置中的数据库连接
type migrateFlags struct {
	dbType string
	dbURL  string
}

func newMigrateCmd(configPath *string) *cobra.Command {
	flags := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `migrate manages the workflow execution schema with golang-migrate.
The connection comes from the config file unless --db-type and --db-url are both given.`,
	}
	cmd.PersistentFlags().StringVar(&flags.dbType, "db-type", "", "database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&flags.dbURL, "db-url", "", "database connection URL (default: from config)")

	// withCLI 创建迁移器并在命令结束后关闭
	withCLI := func(run func(cmd *cobra.Command, cli *migration.CLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := createMigrator(*configPath, flags)
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd, cli, args)
		}
	}

	var downAll bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunDown(cmd.Context(), downAll)
		}),
	}
	down.Flags().BoolVar(&downAll, "all", false, "roll back every migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		},
		down,
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or roll back when n is negative",
			Args:  cobra.ExactArgs(1),
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return cli.RunSteps(cmd.Context(), n)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the migration version without running migrations (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(cmd.Context(), v)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		},
	)
	return cmd
}

// createMigrator 优先使用命令行给出的连接，否则读取配置
func createMigrator(configPath string, flags *migrateFlags) (*migration.DefaultMigrator, error) {
	if flags.dbType != "" && flags.dbURL != "" {
		return migration.NewMigratorFromURL(flags.dbType, flags.dbURL, zap.NewNop())
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbType != "" {
		cfg.Database.Driver = flags.dbType
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}
