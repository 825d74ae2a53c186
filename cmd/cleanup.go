package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup [index...]",
	Short: "Remove index entries whose source document is gone",
	Long: `Scroll the index's document IDs in batches, check each batch against the
backing MongoDB collection and bulk-delete the entries that no longer have
a source document. With no arguments all configured indexes are cleaned.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	env, err := setupEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	for _, name := range indexNames(cfg, args) {
		report, err := env.Service.RunCleanup(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d stale documents removed (run %s)\n", report.Index, report.Deleted, report.RunID)
	}

	return nil
}
