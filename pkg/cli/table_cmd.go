package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

var tableColumns = []string{"id", "schema", "name", "display_name"}

func newTableCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "table",
		Aliases: []string{"tables"},
		Short:   "Inspect warehouse table metadata",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printList(cmd, c, "/table", nil, tableColumns)
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a table with its fields",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getObject(cmd, c, http.MethodGet, "/table/"+args[0], nil)
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Refresh table metadata from the warehouse",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return getObject(cmd, c, http.MethodPost, "/table/sync", nil)
			},
		},
	)
	return cmd
}
