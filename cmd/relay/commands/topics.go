package commands

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"chunkrelay/pkg/app"
	"chunkrelay/pkg/types"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Print the persisted source -> target topic map",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closer, err := app.OpenTopicStore(ctx, settings)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}

		out := cmd.OutOrStdout()
		if store == nil {
			fmt.Fprintln(out, "Topic mapping is disabled (topics.backend = none).")
			return nil
		}

		m, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if len(m) == 0 {
			fmt.Fprintln(out, "No topics mapped yet.")
			return nil
		}

		srcs := make([]types.TopicID, 0, len(m))
		for src := range m {
			srcs = append(srcs, src)
		}
		slices.Sort(srcs)

		tw := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tTARGET")
		for _, src := range srcs {
			fmt.Fprintf(tw, "%d\t%d\n", src, m[src])
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
