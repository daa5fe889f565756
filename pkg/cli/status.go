package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [request-id]",
		Short: "Show request lifecycle state",
		Long: `Without arguments, lists recent requests. With a request id, prints
the full lifecycle record and the settlement record if one exists.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeAll()

			if len(args) == 0 {
				reqs, err := eng.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, r := range reqs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tattempts=%d\n", r.ID, r.State, r.AttemptCount)
				}
				return nil
			}

			req, rec, err := eng.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := map[string]any{"request": req}
			if rec != nil {
				out["settlement"] = rec
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max requests to list")
	return cmd
}

func NewRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <request-id>",
		Short: "Clear backoff on a waiting request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := eng.ForceRetry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %s eligible for immediate retry\n", args[0])
			return nil
		},
	}
}
