package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

func NewOverrideCommand(opts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "override <request-id> <true|false|invalid>",
		Short: "Settle a request with an operator-supplied outcome",
		Long: `Bypasses automated resolution for one request. The settlement is
submitted immediately and the evidence bundle is marked as an override with
the given reason.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := eng.Override(cmd.Context(), args[0], contracts.Outcome(args[1]), reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %s settled by override as %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the automated outcome is being overridden (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
