package cli

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

var policyColumns = []string{"id", "table_id", "group_id", "mode", "filter_column", "attribute_key", "custom_view_id"}

func newSandboxCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sandbox",
		Aliases: []string{"sandboxes", "policy"},
		Short:   "Manage row-level sandbox policies",
	}
	cmd.AddCommand(
		newSandboxListCmd(c),
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a sandbox policy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getObject(cmd, c, http.MethodGet, "/sandbox/"+args[0], nil)
			},
		},
		newSandboxSetCmd(c),
		newSandboxDeleteCmd(c),
	)
	return cmd
}

func newSandboxListCmd(c *client.Client) *cobra.Command {
	var table, group string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sandbox policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if table != "" {
				q.Set("table_id", table)
			}
			if group != "" {
				q.Set("group_id", group)
			}
			return printList(cmd, c, "/sandbox", q, policyColumns)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Only policies on this table ID")
	cmd.Flags().StringVar(&group, "group", "", "Only policies for this group ID")
	return cmd
}

func newSandboxSetCmd(c *client.Client) *cobra.Command {
	var table, group, mode, column, attribute, view string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace the policy of a table and group",
		Example: `  # Members of the group only see rows whose CATEGORY equals their filter-attribute
  duck-sandbox sandbox set --table $TABLE --group $GROUP \
    --mode column --filter-column CATEGORY --attribute-key filter-attribute

  # Members of the group read the table through a saved question
  duck-sandbox sandbox set --table $TABLE --group $GROUP --mode custom_view --custom-view $CARD`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]interface{}{
				"table_id": table,
				"group_id": group,
				"mode":     mode,
			}
			optional := map[string]string{
				"filter_column":  column,
				"attribute_key":  attribute,
				"custom_view_id": view,
			}
			for k, v := range optional {
				if v != "" {
					body[k] = v
				}
			}
			return getObject(cmd, c, http.MethodPut, "/sandbox", body)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Table ID (required)")
	cmd.Flags().StringVar(&group, "group", "", "Group ID (required)")
	cmd.Flags().StringVar(&mode, "mode", "column", "Policy mode: column or custom_view")
	cmd.Flags().StringVar(&column, "filter-column", "", "Column compared with the login attribute (column mode)")
	cmd.Flags().StringVar(&attribute, "attribute-key", "", "Login attribute holding the allowed value (column mode)")
	cmd.Flags().StringVar(&view, "custom-view", "", "Card ID of the replacement view (custom_view mode)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func newSandboxDeleteCmd(c *client.Client) *cobra.Command {
	var table, group string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the policy of a table and group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"table_id": {table}, "group_id": {group}}
			if err := c.DoJSON(http.MethodDelete, "/sandbox", q, nil, nil); err != nil {
				return err
			}
			return printDone(cmd, "Sandbox policy deleted")
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Table ID (required)")
	cmd.Flags().StringVar(&group, "group", "", "Group ID (required)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
