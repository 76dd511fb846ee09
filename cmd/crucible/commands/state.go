package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the identity store",
		Long: `The identity store maps object uids to backend-assigned ids. It is what
lets a rename survive: matching tries the store before it falls back to
key equality.`,
	}
	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateForgetCommand())
	return cmd
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List identity mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			entries := rt.store.Entries()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Type", "UID", "Backend ID"})
			for _, e := range entries {
				t.AppendRow(table.Row{e.Type, e.UID, e.ID.String()})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
}

func newStateForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <type> <uid>",
		Short: "Drop one identity mapping",
		Long: `Drop the mapping for one object. The next plan matches the object by
key again, or creates it if no record carries its key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uid, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("bad uid %q: %w", args[1], err)
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if _, ok := rt.store.Lookup(args[0], uid); !ok {
				return fmt.Errorf("no mapping for %s %s", args[0], uid)
			}
			rt.store.Forget(args[0], uid)
			rt.logger.Info().Str("type", args[0]).Str("uid", uid.String()).Msg("mapping dropped")
			return nil
		},
	}
}
