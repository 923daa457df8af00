package cli

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func isQuiet(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	return v
}

// printList fetches every page of path and prints the items as a table of
// columns, as JSON, or as bare ids with --quiet.
func printList(cmd *cobra.Command, c *client.Client, path string, query url.Values, columns []string) error {
	items, err := client.FetchAllPages(c, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case isQuiet(cmd):
		for _, it := range items {
			if m, ok := it.(map[string]interface{}); ok {
				_, _ = fmt.Fprintln(out, client.ExtractField(m, "id"))
			}
		}
		return nil
	case getOutputFormat(cmd) == "json":
		if items == nil {
			items = []interface{}{}
		}
		return client.PrintJSON(out, items)
	default:
		client.PrintTable(out, columns, client.Rows(items, columns))
		return nil
	}
}

// printObject prints a single resource as "key: value" lines, as JSON, or
// as its id with --quiet.
func printObject(cmd *cobra.Command, obj map[string]interface{}) error {
	out := cmd.OutOrStdout()
	switch {
	case isQuiet(cmd):
		_, _ = fmt.Fprintln(out, client.ExtractField(obj, "id"))
		return nil
	case getOutputFormat(cmd) == "json":
		return client.PrintJSON(out, obj)
	default:
		client.PrintDetail(out, obj)
		return nil
	}
}

// getObject fetches path and prints the result.
func getObject(cmd *cobra.Command, c *client.Client, method, path string, body interface{}) error {
	var obj map[string]interface{}
	if err := c.DoJSON(method, path, nil, body, &obj); err != nil {
		return err
	}
	return printObject(cmd, obj)
}

// printDone reports a call that returns no body.
func printDone(cmd *cobra.Command, msg string) error {
	if isQuiet(cmd) {
		return nil
	}
	if getOutputFormat(cmd) == "json" {
		return client.PrintJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
