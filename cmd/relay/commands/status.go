package commands

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"chunkrelay/pkg/app"
	"chunkrelay/pkg/checkpoint"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint (and per-status counts for the db ledger)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ledger, closer, err := app.OpenLedger(ctx, settings, logger)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		id, ok, err := ledger.Load(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Pair:       %d -> %d\n", settings.Source.Container, settings.Target.Container)
		fmt.Fprintf(out, "Backend:    %s\n", settings.Checkpoint.Backend)
		if ok {
			fmt.Fprintf(out, "Checkpoint: %d\n", id)
		} else {
			fmt.Fprintln(out, "Checkpoint: (none, starts from the beginning)")
		}

		db, shared := ledger.(*checkpoint.DBLedger)
		if !shared {
			return nil
		}
		counts, err := db.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tCOUNT")
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
