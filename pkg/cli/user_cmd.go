package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

var userColumns = []string{"id", "name", "type", "is_admin", "login_attributes"}

func newUserCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage users and their login attributes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printList(cmd, c, "/user", nil, userColumns)
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getObject(cmd, c, http.MethodGet, "/user/"+args[0], nil)
			},
		},
		&cobra.Command{
			Use:   "current",
			Short: "Show the authenticated user",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return getObject(cmd, c, http.MethodGet, "/user/current", nil)
			},
		},
		newUserCreateCmd(c),
		&cobra.Command{
			Use:   "set-attributes <id> <key=value>...",
			Short: "Replace the login attributes of a user",
			Example: `  # Restrict the sandboxed user to gizmos
  duck-sandbox user set-attributes 3f1c... filter-attribute=Gizmo`,
			Args: cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				attrs, err := parseAttributes(args[1:])
				if err != nil {
					return err
				}
				return getObject(cmd, c, http.MethodPut, "/user/"+args[0], map[string]interface{}{
					"login_attributes": attrs,
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.DoJSON(http.MethodDelete, "/user/"+args[0], nil, nil, nil); err != nil {
					return err
				}
				return printDone(cmd, "User deleted")
			},
		},
	)
	return cmd
}

func newUserCreateCmd(c *client.Client) *cobra.Command {
	var (
		admin bool
		attrs []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseAttributes(attrs)
			if err != nil {
				return err
			}
			return getObject(cmd, c, http.MethodPost, "/user", map[string]interface{}{
				"name":             args[0],
				"type":             "user",
				"is_admin":         admin,
				"login_attributes": parsed,
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin rights")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Login attribute as key=value (repeatable)")
	return cmd
}

// parseAttributes turns key=value pairs into a map. Values may contain '='.
func parseAttributes(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
