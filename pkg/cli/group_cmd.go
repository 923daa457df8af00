package cli

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

var groupColumns = []string{"id", "name", "description"}

func newGroupCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "group",
		Aliases: []string{"groups"},
		Short:   "Manage permission groups and memberships",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List groups",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printList(cmd, c, "/permissions/group", nil, groupColumns)
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a group with its members",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getObject(cmd, c, http.MethodGet, "/permissions/group/"+args[0], nil)
			},
		},
		newGroupCreateCmd(c),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a group and its sandbox policies",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.DoJSON(http.MethodDelete, "/permissions/group/"+args[0], nil, nil, nil); err != nil {
					return err
				}
				return printDone(cmd, "Group deleted")
			},
		},
		newMembershipCmd(c, "add-member", "Add a user or group to a group", http.MethodPost, "Member added"),
		newMembershipCmd(c, "remove-member", "Remove a member from a group", http.MethodDelete, "Member removed"),
	)
	return cmd
}

func newGroupCreateCmd(c *client.Client) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getObject(cmd, c, http.MethodPost, "/permissions/group", map[string]string{
				"name":        args[0],
				"description": description,
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Group description")
	return cmd
}

func newMembershipCmd(c *client.Client, use, short, method, done string) *cobra.Command {
	var user, group string
	cmd := &cobra.Command{
		Use:   use + " <group-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberType, memberID := "user", user
			switch {
			case user != "" && group != "":
				return errors.New("use either --user or --group, not both")
			case group != "":
				memberType, memberID = "group", group
			case user == "":
				return errors.New("one of --user or --group is required")
			}
			if err := c.DoJSON(method, "/permissions/membership", nil, map[string]string{
				"group_id":    args[0],
				"member_type": memberType,
				"member_id":   memberID,
			}, nil); err != nil {
				return err
			}
			return printDone(cmd, done)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Member user ID")
	cmd.Flags().StringVar(&group, "group", "", "Member group ID")
	return cmd
}
