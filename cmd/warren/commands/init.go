package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/scaffold"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter warren.yml and agent environment",
		Long: `Write a starter hub configuration (warren.yml) and an example agent
environment file (agent.env) into dir, or the current directory.

Existing files are left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			if err := scaffold.Initialize(dir, force); err != nil {
				return printer.Error("init failed", err.Error(), nil)
			}

			printer.Success("Initialized %s\n", dir)
			for _, f := range scaffold.Files {
				printer.Info("  %s\n", filepath.Join(dir, f.Path))
			}
			printer.Info("\nNext steps:\n  1. hub                      (reads ./warren.yml)\n  2. set -a; . ./agent.env; set +a; kit\n  3. warren agents\n")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	return cmd
}
