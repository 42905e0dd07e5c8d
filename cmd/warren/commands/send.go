package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/comms"
)

func newSendCmd(opts *options) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "send --from <agent> --to <agent> <body>",
		Short: "Send a direct message between agents",
		Long: `Send a direct message on behalf of a registered agent.

Both agents must be registered, and an agent cannot message itself.

Examples:
  warren send --from ops --to indexer "reindex the docs"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, from, to, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Sending agent id (required)")
	cmd.Flags().StringVar(&to, "to", "", "Recipient agent id (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBroadcastCmd(opts *options) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "broadcast --from <agent> <body>",
		Short: "Send a message to every other agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, from, comms.BroadcastSentinel, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Sending agent id (required)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func send(cmd *cobra.Command, opts *options, from, to, body string) error {
	receipt, err := opts.client().Send(cmd.Context(), from, to, body)
	if err != nil {
		if errors.Is(err, comms.ErrSelfAddress) {
			return printer.Error("cannot send to self", err.Error(), nil)
		}
		return opts.hubError(err)
	}
	printer.Success("Sent %s (seq %d)\n", receipt.ID, receipt.Seq)
	return nil
}
