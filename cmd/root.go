package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "atlas-reconciler",
	Short: "Reconcile search indexes with their MongoDB collections",
	Long: `Atlas Reconciler keeps Bleve search indexes consistent with the MongoDB
collections backing them: bulk imports load every document into the index,
and clean-up passes remove index entries whose source document has
disappeared.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}
