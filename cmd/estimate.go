package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// estimateCmd represents the estimate command
var estimateCmd = &cobra.Command{
	Use:   "estimate [index...]",
	Short: "Print approximate source document counts",
	Long: `Print the approximate number of documents in the backing MongoDB
collection of each index. The count comes from collection statistics and
is inexact.`,
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
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
		count, err := env.Service.Estimate(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: ~%d documents\n", name, count)
	}

	return nil
}
