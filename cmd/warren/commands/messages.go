package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/format"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/timespec"
	"github.com/dyluth/warren/internal/watch"
	"github.com/dyluth/warren/pkg/comms"
)

// filterFlags are the communication filters shared by messages and watch.
type filterFlags struct {
	since string
	until string
	agent string
	kind  string
}

func (f *filterFlags) register(cmd *cobra.Command, withUntil bool) {
	cmd.Flags().StringVar(&f.since, "since", "", "Only messages after this time (duration like '1h' or RFC3339)")
	if withUntil {
		cmd.Flags().StringVar(&f.until, "until", "", "Only messages before this time (duration like '30m' or RFC3339)")
	}
	cmd.Flags().StringVar(&f.agent, "agent", "", "Only messages sent by or addressed to this agent")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only 'direct' or 'broadcast' messages")
}

func (f *filterFlags) criteria(now time.Time) (*format.FilterCriteria, error) {
	since, until, err := timespec.ParseRange(f.since, f.until, now)
	if err != nil {
		return nil, printer.Error("invalid time range", err.Error(), []string{
			"Use a duration like '1h30m' or an RFC3339 time like '2025-10-29T13:00:00Z'",
		})
	}

	kind := comms.Kind(f.kind)
	if f.kind != "" {
		if err := kind.Validate(); err != nil {
			return nil, printer.Error("invalid kind", fmt.Sprintf("Unknown kind: %s", f.kind),
				[]string{"Valid kinds: direct, broadcast"})
		}
	}

	return &format.FilterCriteria{Since: since, Until: until, Agent: f.agent, Kind: kind}, nil
}

func newMessagesCmd(opts *options) *cobra.Command {
	var limit int
	filters := &filterFlags{}

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List recent communications",
		Long: `List the newest communications in the hub's log, oldest first.

Examples:
  # Last 50 messages
  warren messages

  # Everything alpha sent or received in the last hour
  warren messages --agent alpha --since 1h

  # Export broadcasts for processing with jq
  warren messages --kind broadcast --output jsonl | jq .body`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := opts.format()
			if err != nil {
				return err
			}
			now := time.Now()
			fc, err := filters.criteria(now)
			if err != nil {
				return err
			}

			recent, err := opts.client().Recent(cmd.Context(), limit)
			if err != nil {
				return opts.hubError(err)
			}

			// The hub returns newest first.
			msgs := make([]comms.Message, 0, len(recent))
			for i := len(recent) - 1; i >= 0; i-- {
				msgs = append(msgs, recent[i])
			}
			msgs = format.Filter(msgs, fc)

			if outputFormat == format.OutputFormatJSONL {
				return format.JSONL(cmd.OutOrStdout(), msgs)
			}
			format.MessagesTable(cmd.OutOrStdout(), msgs, now)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Newest messages to fetch before filtering")
	filters.register(cmd, true)
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every communication from the hub's log",
		Long: `Delete every communication and reset the communication counter.

Agents and sequence numbers are kept, so agents polling by cursor are unaffected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return printer.Error(
					"refusing to clear without --force",
					"This permanently deletes the communication log.",
					[]string{"Re-run with --force:\n  warren clear --force"},
				)
			}
			if err := opts.client().Clear(cmd.Context()); err != nil {
				return opts.hubError(err)
			}
			printer.Success("Communication log cleared\n")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm deletion")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	var interval time.Duration
	filters := &filterFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream communications as they are sent",
		Long: `Stream communications live, until interrupted.

Without --since only messages sent after the watch starts are shown. With
--since, retained messages from that point on are replayed first.

Examples:
  warren watch
  warren watch --agent alpha
  warren watch --since 10m --output jsonl > traffic.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := opts.format()
			if err != nil {
				return err
			}
			fc, err := filters.criteria(time.Now())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := opts.client()
			var after uint64
			if filters.since == "" {
				head, err := client.Recent(ctx, 1)
				if err != nil {
					return opts.hubError(err)
				}
				if len(head) > 0 {
					after = head[0].Seq
				}
			}

			out := cmd.OutOrStdout()
			if outputFormat == format.OutputFormatTable {
				printer.Step("Watching %s (Ctrl+C to stop)\n", opts.hubURL)
			}
			emit := func(m comms.Message) error {
				if outputFormat == format.OutputFormatJSONL {
					return format.JSONL(out, []comms.Message{m})
				}
				_, err := fmt.Fprintln(out, format.MessageLine(m, time.Now()))
				return err
			}

			err = watch.Tail(ctx, client, watch.Options{Interval: interval, After: after, Filter: fc}, emit)
			if err != nil {
				return opts.hubError(err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "Poll period")
	filters.register(cmd, false)
	return cmd
}
