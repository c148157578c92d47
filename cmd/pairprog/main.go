package main

import (
	"context"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/youruser/pairprog/internal/logging"
)

var log = logging.Get()

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	defer log.Close()
	ctx = pslog.ContextWithLogger(ctx, log.Logger())

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error("pairprog command failed", "error", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pairprog",
		Short:         "Send debounced diffs of your edits to a model and show its review",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		// The editor spawns the binary without arguments.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, serveFlags{})
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}
