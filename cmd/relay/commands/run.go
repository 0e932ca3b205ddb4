package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunkrelay/pkg/app"
	"chunkrelay/pkg/relay"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relay all remaining messages from source to target",
	Long: `Run starts from the checkpoint and relays every remaining message of the source
container. Ctrl-C stops after abandoning the message in flight; the next run resumes there.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.ValidateRun(); err != nil {
			return err
		}

		// SIGINT / SIGTERM 取消整个流程
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := app.NewRelay(ctx, settings, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize relay: %w", err)
		}
		defer r.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "🚀 Relaying %d -> %d via %s\n",
			settings.Source.Container, settings.Target.Container, settings.Platform.Addr)

		stats, err := r.Orchestrator.Run(ctx)
		if stats != nil {
			printSummary(cmd, stats)
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "⚠️  Interrupted. Run again to resume from the checkpoint.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("relay aborted: %w", err)
		}
		fmt.Fprintln(out, "✅ Done.")
		return nil
	},
}

func printSummary(cmd *cobra.Command, s *relay.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"📊 ok=%d failed=%d skipped=%d filtered=%d | %.2f GB | %.1f msgs/min | %s\n",
		s.Succeeded, s.Failed, s.Skipped, s.Filtered,
		s.Gigabytes(), s.MessagesPerMinute(), s.Elapsed.Round(time.Second))
}

func init() {
	f := runCmd.Flags()
	f.String("platform", "", "relay-hub address (host:port)")
	f.Int64("source-topic", 0, "only relay messages of this source topic")
	f.Int64("target-topic", 0, "default topic in the target container")
	f.Int("parallel", 0, "concurrent part uploads")
	f.Int("chunk-size", 0, "part size in bytes (divides 512KiB)")
	f.Duration("min-interval", 0, "minimum time between two sends")

	bindFlag(runCmd, "platform.addr", "platform")
	bindFlag(runCmd, "source.topic", "source-topic")
	bindFlag(runCmd, "target.topic", "target-topic")
	bindFlag(runCmd, "transfer.parallel", "parallel")
	bindFlag(runCmd, "transfer.chunk_size", "chunk-size")
	bindFlag(runCmd, "transfer.min_interval", "min-interval")

	rootCmd.AddCommand(runCmd)
}
