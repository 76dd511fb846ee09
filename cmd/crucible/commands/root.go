// Package commands implements the crucible CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crucible",
		Short: "Crucible - declarative backend reconciliation",
		Long: `Crucible reconciles a portable inventory of desired objects against a
backend system of record.

It observes what the backend holds, matches records to desired objects
through a persistent identity store, computes a deterministic plan of
creates, updates and deletes, and applies it in dependency order.
Portable attributes the backend has no native field for are projected
into custom fields, tags or free-form context by configurable rules,
and inverted back on extract.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newStateCommand())

	return rootCmd
}
