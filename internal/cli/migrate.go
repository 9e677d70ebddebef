package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vesperbase/vesper/internal/database"
	"github.com/vesperbase/vesper/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Database migration commands for Vesper.

Migrations ship embedded in the binary and are applied automatically on
startup; these commands exist for inspecting state and for applying
migrations ahead of a deploy.

Examples:
  vesper migrate status      Show applied migrations
  vesper migrate apply       Apply pending migrations`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE:  runMigrateStatus,
}

var migrateApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply pending migrations",
	RunE:  runMigrateApply,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateApplyCmd)

	rootCmd.AddCommand(migrateCmd)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(&cfg.Logging)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	if len(applied) == 0 {
		fmt.Println("No migrations applied")
		return nil
	}

	fmt.Printf("Applied migrations (%d):\n", len(applied))
	for _, m := range applied {
		fmt.Printf("  %s  %s\n", m.AppliedAt.Format("2006-01-02 15:04:05"), m.ID)
	}
	return nil
}

func runMigrateApply(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(&cfg.Logging)

	// Open runs pending migrations as part of startup.
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	defer db.Close()

	fmt.Println("Migrations up to date")
	return nil
}
