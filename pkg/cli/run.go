package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/subjective-labs/resolver/pkg/engine"
)

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the resolver loops",
		Long: `Starts clock anchoring, the chain watcher, and the dispatch
scheduler, and runs until interrupted. All configuration comes from the
environment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, closeAll, err := engine.Build(ctx, opts.Config)
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Run(ctx)
		},
	}
}

// buildEngine is the shared setup for the one-shot operator commands.
func buildEngine(ctx context.Context, opts *RootOptions) (*engine.Engine, func(), error) {
	return engine.Build(ctx, opts.Config)
}
