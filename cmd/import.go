package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [index...]",
	Short: "Bulk-import source collections into their indexes",
	Long: `Stream every document of the backing MongoDB collection into the search
index in batches. With no arguments all configured indexes are imported.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
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
		report, err := env.Service.RunImport(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d written, %d failed (run %s)\n", report.Index, report.Written, report.Failed, report.RunID)
	}

	return nil
}
