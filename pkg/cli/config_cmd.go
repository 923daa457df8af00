package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
		Long: "Profiles hold a host, credentials and a default output format. The active\n" +
			"profile fills in whatever --host, --api-key, --token and --output leave unset.",
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetProfileCmd(),
		newConfigUseProfileCmd(),
		newConfigDeleteProfileCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display all profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no configuration at %s: %w", ConfigPath(), err)
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(cmd.OutOrStdout(), cfg)
			}

			var rows [][]string
			for _, name := range cfg.profileNames() {
				p := cfg.Profiles[name]
				marker := ""
				if name == cfg.CurrentProfile {
					marker = "*"
				}
				rows = append(rows, []string{name, marker, p.Host, p.Output, p.APIKey, p.Token})
			}
			client.PrintTable(cmd.OutOrStdout(), []string{"profile", "active", "host", "output", "api-key", "token"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show API keys and tokens unmasked")
	return cmd
}

// maskConfig copies cfg with credentials masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	out := &UserConfig{CurrentProfile: cfg.CurrentProfile, Profiles: make(map[string]Profile, len(cfg.Profiles))}
	for name, p := range cfg.Profiles {
		p.APIKey = maskSecret(p.APIKey)
		p.Token = maskSecret(p.Token)
		out.Profiles[name] = p
	}
	return out
}

// maskSecret keeps the first and last four characters of values longer than
// ten characters and hides shorter ones entirely.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 10:
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetProfileCmd() *cobra.Command {
	var name string
	var values Profile

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a profile",
		Example: "  duck-sandbox config set-profile --name local --host http://localhost:8080 --token $TOKEN\n" +
			"  duck-sandbox config set-profile --name ci --api-key $DUCK_SANDBOX_API_KEY --output json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed := cmd.Flags().Changed
			if changed("output") {
				if err := validateOutputFormat(values.Output); err != nil {
					return err
				}
			}

			cfg := loadOrNewUserConfig()
			p := cfg.Profiles[name]
			if changed("host") {
				base, err := normalizeHost(values.Host)
				if err != nil {
					return err
				}
				p.Host = base
			}
			if changed("api-key") {
				p.APIKey = values.APIKey
			}
			if changed("token") {
				p.Token = values.Token
			}
			if changed("output") {
				p.Output = values.Output
			}
			cfg.Profiles[name] = p

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportProfileChange(cmd, fmt.Sprintf("Profile %q saved to %s", name, ConfigPath()),
				map[string]string{"status": "ok", "profile": name, "path": ConfigPath()})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&values.Host, "host", "", "API host URL")
	cmd.Flags().StringVar(&values.APIKey, "api-key", "", "API key")
	cmd.Flags().StringVar(&values.Token, "token", "", "JWT bearer token")
	cmd.Flags().StringVar(&values.Output, "output", "", "Default output format (table|json)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "use-profile <name>",
		Short:             "Set the active profile",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfileNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, name, err := loadWithProfile(args[0])
			if err != nil {
				return err
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportProfileChange(cmd, fmt.Sprintf("Active profile set to %q", name),
				map[string]string{"status": "ok", "active_profile": name})
		},
	}
}

func newConfigDeleteProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "delete-profile <name>",
		Short:             "Remove a profile",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfileNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, name, err := loadWithProfile(args[0])
			if err != nil {
				return err
			}
			delete(cfg.Profiles, name)
			if cfg.CurrentProfile == name {
				cfg.CurrentProfile = ""
			}
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			return reportProfileChange(cmd, fmt.Sprintf("Profile %q deleted", name),
				map[string]string{"status": "ok", "deleted_profile": name})
		},
	}
}

// loadWithProfile loads the config file and checks that profile name exists.
func loadWithProfile(name string) (*UserConfig, string, error) {
	cfg, err := LoadUserConfig()
	if err != nil {
		return nil, "", fmt.Errorf("no config found: %w", err)
	}
	if _, ok := cfg.Profiles[name]; !ok {
		return nil, "", fmt.Errorf("profile %q not found", name)
	}
	return cfg, name, nil
}

func reportProfileChange(cmd *cobra.Command, text string, fields map[string]string) error {
	if getOutputFormat(cmd) == "json" {
		return client.PrintJSON(cmd.OutOrStdout(), fields)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func completeProfileNames(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := LoadUserConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return cfg.profileNames(), cobra.ShellCompDirectiveNoFileComp
}

func (c *UserConfig) profileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
