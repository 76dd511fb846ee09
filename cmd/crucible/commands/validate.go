package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/crucible-io/crucible/pkg/model"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the inventory and projection rules",
		Long: `Validate the configured inventory against its schema and check the
projection rule set for configuration errors.

All findings are collected and reported at once; the command exits
non-zero when any finding exists.`,
		Example: `  # Validate with the default config
  crucible validate

  # Validate a specific setup
  crucible validate -c prod.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			inv, err := rt.loadInventory()
			if err != nil {
				return err
			}

			if _, err := rt.loadRules(); err != nil {
				return fmt.Errorf("projection rules: %w", err)
			}

			if err := model.ValidateInventory(inv); err != nil {
				var verr *model.ValidationError
				if errors.As(err, &verr) {
					renderFindings(verr.Findings)
					return fmt.Errorf("validation failed with %d finding(s)", len(verr.Findings))
				}
				return err
			}

			rt.logger.Info().
				Int("objects", len(inv.Objects)).
				Int("types", len(inv.Schema.Types)).
				Msg("inventory valid")
			return nil
		},
	}
	return cmd
}

func renderFindings(findings []model.Finding) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(findings)
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Type", "UID", "Field", "Code", "Message"})
	for _, f := range findings {
		t.AppendRow(table.Row{f.Type, f.UID, f.Field, f.Code, f.Message})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
