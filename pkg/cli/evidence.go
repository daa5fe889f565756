package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func NewEvidenceCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Inspect and export evidence bundles",
	}

	show := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Print an evidence bundle and its canonical hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeAll()

			bundle, hash, err := eng.Evidence(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(bundle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "canonical hash: %s\n", hash)
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export <request-id>",
		Short: "Ship an evidence bundle to the configured object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := buildEngine(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := eng.ExportEvidence(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evidence for %s exported\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(show, export)
	return cmd
}
