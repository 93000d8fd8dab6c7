package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/migrations"
	"github.com/otherjamesbrown/dealbook/pkg/db"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the dealbook.

Manage the schema and check connectivity. Migrations are compiled into the
binary, applied in filename order, and tracked in the schema_migrations
table.

Connection settings come from the database section of the config file or
DEALBOOK_DB_* environment variables.`,
		Aliases: []string{"database"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbHealthCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *Deps) *cobra.Command {
	var dryRun, yes bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations before applying them. Each migration runs in its
own transaction and is recorded in schema_migrations. If a migration fails
it is rolled back and no further migrations are attempted.`,
		Example: `  dealbook db migrate
  dealbook db migrate --dry-run
  dealbook db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, cmd.OutOrStdout(), dryRun, yes)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

  Applied: applied and still present in the binary
  Pending: present in the binary, not applied yet
  Drift:   applied, but no longer present in the binary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, cmd.OutOrStdout())
		},
	}
}

func newDbHealthCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			pool, err := deps.OpenPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			status := db.Check(cmd.Context(), pool)
			if err := render(cmd.OutOrStdout(), cfg.OutputFormat, status, func(w io.Writer) error {
				fmt.Fprintf(w, "Database:   %s\n", cfg.Database.DB().Redacted())
				fmt.Fprintf(w, "Healthy:    %t\n", status.Healthy)
				fmt.Fprintf(w, "Latency:    %s\n", status.Latency)
				if status.ServerVersion != "" {
					fmt.Fprintf(w, "Server:     PostgreSQL %s\n", status.ServerVersion)
				}
				fmt.Fprintf(w, "Pool:       %d total, %d idle, %d acquired\n",
					status.TotalConns, status.IdleConns, status.AcquiredConns)
				return nil
			}); err != nil {
				return err
			}
			return status.Error
		},
	}
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *Deps, out io.Writer, dryRun, yes bool) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.OpenPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, migrations.FS)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(deps.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	result, err := db.RunMigrations(ctx, pool, migrations.FS)
	if err != nil {
		fmt.Fprintf(out, "\nMigration failed: %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  ✓ %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "Applied %d migration(s):\n", len(result.Applied))
	for _, v := range result.Applied {
		fmt.Fprintf(out, "  ✓ %s\n", v)
	}
	return nil
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *Deps, out io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := deps.OpenPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, migrations.FS)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return outputMigrationStatus(out, cfg.OutputFormat, status)
}

// outputMigrationStatus formats and outputs migration status.
func outputMigrationStatus(out io.Writer, format config.OutputFormat, status *db.MigrationStatus) error {
	return render(out, format, status, func(w io.Writer) error {
		if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
			fmt.Fprintln(w, "No migrations found.")
			return nil
		}

		t := newTable(w, "Migrations")
		t.AppendHeader([]any{"Version", "Name", "State", "Applied"})
		appendEntries := func(entries []db.MigrationStatusEntry, state string) {
			for _, m := range entries {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				t.AppendRow([]any{m.Version, m.Name, state, appliedAt})
			}
		}
		appendEntries(status.Applied, "applied")
		appendEntries(status.Pending, "pending")
		appendEntries(status.Drift, "drift (file missing)")
		t.Render()

		fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
		if len(status.Drift) > 0 {
			fmt.Fprintf(w, ", %d drift", len(status.Drift))
		}
		fmt.Fprintln(w)
		return nil
	})
}
