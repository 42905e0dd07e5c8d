package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/format"
	"github.com/dyluth/warren/internal/hubclient"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/comms"
)

const defaultHubURL = "http://localhost:8700"

var versionString = "dev"

// options holds the global flags shared by every subcommand.
type options struct {
	hubURL  string
	timeout time.Duration
	output  string
}

func (o *options) client() *hubclient.Client {
	return hubclient.New(o.hubURL, o.timeout)
}

func (o *options) format() (format.OutputFormat, error) {
	f, err := format.ParseOutputFormat(o.output)
	if err != nil {
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", o.output),
			[]string{"Valid formats: table, jsonl"},
		)
	}
	return f, nil
}

// hubError turns a client error into a formatted, actionable message.
func (o *options) hubError(err error) error {
	switch {
	case errors.Is(err, comms.ErrTransport):
		return printer.ErrorWithContext(
			"hub unreachable",
			err.Error(),
			map[string]string{"Hub": o.hubURL},
			[]string{
				"Start the hub:\n  hub",
				"Point at a different hub:\n  warren --hub <url> ...",
			},
		)
	case errors.Is(err, comms.ErrNotFound):
		return printer.Error(
			"agent not found",
			err.Error(),
			[]string{"List registered agents:\n  warren agents"},
		)
	case errors.Is(err, comms.ErrRateLimitExceeded):
		return printer.Error("rate limited", err.Error(), []string{"Wait a moment and try again."})
	}
	return err
}

// NewRootCmd builds the warren command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "warren",
		Short: "Warren - operator CLI for an agent coordination hub",
		Long: `Warren inspects and drives a running coordination hub: list agents and
their liveness, read or tail the communication log, send direct or
broadcast messages, and set agent status.

The hub address defaults to $WARREN_HUB_URL, then ` + defaultHubURL + `.`,
		Version: versionString,
		// Show help rather than silently succeeding without a subcommand
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}

	hubURL := os.Getenv("WARREN_HUB_URL")
	if hubURL == "" {
		hubURL = defaultHubURL
	}
	root.PersistentFlags().StringVar(&opts.hubURL, "hub", hubURL, "Hub base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", hubclient.DefaultTimeout, "Per-request timeout")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", string(format.OutputFormatTable), "Output format (table or jsonl)")

	root.AddCommand(
		newInitCmd(),
		newAgentsCmd(opts),
		newStatsCmd(opts),
		newSendCmd(opts),
		newBroadcastCmd(opts),
		newMessagesCmd(opts),
		newClearCmd(opts),
		newWatchCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// Execute runs the CLI. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
