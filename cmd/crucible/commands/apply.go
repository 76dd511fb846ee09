package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/crucible-io/crucible/pkg/apply"
	"github.com/crucible-io/crucible/pkg/planner"
)

func newApplyCommand() *cobra.Command {
	var (
		planFile    string
		allowDelete bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute the reconciliation plan",
		Long: `Execute a plan against the backend, sequentially and in plan order.

References between objects are resolved to backend ids just before each
operation, so an object created earlier in the run can be referenced
later in the same run. The first failure stops execution; everything
after it is reported as skipped.

Deletes are always planned but only executed with --allow-delete or
allow_delete in the config.`,
		Example: `  # Recompute the plan and apply it
  crucible apply

  # Apply a previously saved plan
  crucible apply --plan plan.json

  # Allow deletes for this run
  crucible apply --allow-delete`,
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

			var plan *planner.Plan
			if planFile != "" {
				f, err := os.Open(planFile)
				if err != nil {
					return fmt.Errorf("opening plan file: %w", err)
				}
				plan, err = planner.DecodePlan(f)
				f.Close()
				if err != nil {
					return err
				}
			} else {
				plan, err = p.computePlan(rt)
				if err != nil {
					return err
				}
			}

			exec := apply.New(p.backend, rt.store, p.inventory.Schema,
				apply.WithLogger(rt.logger),
				apply.WithTracer(rt.tracer.Tracer()),
				apply.AllowDelete(allowDelete || rt.cfg.AllowDelete),
			)

			start := time.Now()
			report, runErr := exec.Run(ctx, plan)
			status := "ok"
			if runErr != nil {
				status = "failed"
			}
			rt.metrics.RunFinished("apply", status, time.Since(start))
			for _, res := range report.Results {
				rt.metrics.OperationApplied(string(res.Op.Kind), res.Op.Type, string(res.Outcome), res.Duration)
			}

			if err := rt.saveBackend(p.backend); err != nil {
				return err
			}

			if jsonOutput {
				if err := report.Encode(os.Stdout); err != nil {
					return err
				}
			} else {
				renderReport(report)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "apply a previously saved plan instead of recomputing")
	cmd.Flags().BoolVar(&allowDelete, "allow-delete", false, "execute planned deletes")
	return cmd
}

func renderReport(report *apply.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Op", "Type", "Key", "Outcome", "Reason"})
	for _, res := range report.Results {
		t.AppendRow(table.Row{
			string(res.Op.Kind), res.Op.Type, res.Op.Key, string(res.Outcome), res.Reason,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	applied, skipped, failed := report.Counts()
	fmt.Printf("\nApply: %d applied, %d skipped, %d failed.\n", applied, skipped, failed)
}
