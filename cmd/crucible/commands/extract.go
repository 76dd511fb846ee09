package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crucible-io/crucible/pkg/extract"
	"github.com/crucible-io/crucible/pkg/model"
)

func newExtractCommand() *cobra.Command {
	var (
		outFile     string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Build an inventory from the backend",
		Long: `Observe every schema type from the backend and write the result as a
portable inventory.

Projected storage is inverted back into attribute keys where the rules
allow it; fields behind transform chains cannot be inverted and are
preserved under their raw names, with a warning. Object uids are derived
from type and key, so extracting twice yields the same document.`,
		Example: `  # Extract to stdout
  crucible extract

  # Extract into a file and record identities for later plans
  crucible extract --out inventory.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			// The inventory file supplies the schema to extract against.
			inv, err := rt.loadInventory()
			if err != nil {
				return err
			}
			rules, err := rt.loadRules()
			if err != nil {
				return fmt.Errorf("projection rules: %w", err)
			}
			b, err := rt.openBackend(inv.Schema)
			if err != nil {
				return err
			}

			ex := extract.New(b, inv.Schema, rules,
				extract.WithLogger(rt.logger),
				extract.WithStore(rt.store),
				extract.WithConcurrency(concurrency),
			)
			extracted, warnings, err := ex.Run(ctx)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				rt.logger.Warn().Str("type", w.Type).Msg(w.String())
			}

			if outFile != "" {
				return model.SaveInventoryFile(outFile, extracted)
			}
			return model.EncodeInventory(os.Stdout, extracted)
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the inventory to this file instead of stdout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of types observed at once")
	return cmd
}
