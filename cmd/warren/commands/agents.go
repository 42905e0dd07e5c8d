package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/format"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/comms"
)

func newAgentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents and their liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := opts.format()
			if err != nil {
				return err
			}

			agents, err := opts.client().ListAgents(cmd.Context())
			if err != nil {
				return opts.hubError(err)
			}

			if outputFormat == format.OutputFormatJSONL {
				return format.JSONL(cmd.OutOrStdout(), agents)
			}
			format.AgentsTable(cmd.OutOrStdout(), agents, time.Now())
			return nil
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show hub statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, err := opts.format()
			if err != nil {
				return err
			}

			stats, err := opts.client().Stats(cmd.Context())
			if err != nil {
				return opts.hubError(err)
			}

			if outputFormat == format.OutputFormatJSONL {
				return format.JSONL(cmd.OutOrStdout(), []comms.Stats{stats})
			}
			format.StatsTable(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <agent-id> <online|warning|offline>",
		Short: "Set an agent's status",
		Long: `Set an agent's status explicitly.

The sweep only ever moves online agents to offline; use this to flag an
agent as warning or to bring one back without waiting for its heartbeat.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := comms.Status(args[1])
			if err := status.Validate(); err != nil {
				return printer.Error(
					"invalid status",
					fmt.Sprintf("Unknown status: %s", args[1]),
					[]string{"Valid statuses: online, warning, offline"},
				)
			}

			agent, err := opts.client().SetStatus(cmd.Context(), args[0], status)
			if err != nil {
				return opts.hubError(err)
			}
			printer.Success("Agent %s is now %s\n", agent.ID, printer.Status(agent.Status, string(agent.Status)))
			return nil
		},
	}
}
