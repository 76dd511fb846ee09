package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/crucible-io/crucible/pkg/planner"
)

func newPlanCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the reconciliation plan",
		Long: `Compute the ordered set of creates, updates and deletes that would
bring the backend in line with the inventory.

The plan:
  - Observes every schema type from the backend
  - Matches records through the identity store, falling back to keys
  - Diffs matched objects field by field
  - Orders operations so dependencies come first

Nothing is written to the backend. Identity mappings discovered through
key matching are persisted so the next run matches by identity.`,
		Example: `  # Show the plan
  crucible plan

  # Save the plan for a later apply
  crucible plan --out plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			p, err := buildPipeline(ctx, rt)
			if err != nil {
				return err
			}
			plan, err := p.computePlan(rt)
			if err != nil {
				return err
			}

			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("creating plan file: %w", err)
				}
				defer f.Close()
				if err := plan.Encode(f); err != nil {
					return err
				}
			}

			if jsonOutput {
				return plan.Encode(os.Stdout)
			}
			renderPlan(plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan as JSON to this file")
	return cmd
}

func renderPlan(plan *planner.Plan) {
	if plan.IsEmpty() {
		fmt.Println("No changes. Backend matches the inventory.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Op", "Type", "Key", "Backend ID", "Changes"})
	for _, op := range plan.Operations {
		id := ""
		if op.BackendID != nil {
			id = op.BackendID.String()
		}
		changes := ""
		if op.Kind == planner.OpUpdate {
			changes = fmt.Sprintf("%d field(s)", len(op.Changes))
		}
		row := table.Row{string(op.Kind), op.Type, op.Key, id, changes}
		t.AppendRow(row)
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	creates, updates, deletes := plan.Counts()
	fmt.Printf("\nPlan: %d to create, %d to update, %d to delete.\n", creates, updates, deletes)
}
