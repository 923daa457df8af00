package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "duck-sandbox version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
