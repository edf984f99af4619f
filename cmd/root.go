package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir string
	actorName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modcatalog",
	Short: "Moderate a mod catalog and keep its dependency graph consistent",
	Long: `modcatalog manages mods, their versions and the game versions they target.
Edits to verified entries go through a moderation queue, and revoking a
version revokes everything that depends on it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory holding the .env file")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "user to act as (defaults to ACTOR)")
}
