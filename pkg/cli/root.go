// Package cli implements the duck-sandbox command-line client.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"duck-sandbox/pkg/cli/client"
)

var (
	version = "dev"
	commit  = "none"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvHost   = "DUCK_SANDBOX_HOST"
	EnvAPIKey = "DUCK_SANDBOX_API_KEY"
	EnvToken  = "DUCK_SANDBOX_TOKEN"
	EnvOutput = "DUCK_SANDBOX_OUTPUT"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["error_type"] = apiErr.Code
			}
			_ = client.PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		apiKey  string
		token   string
		output  string
		profile string
	)

	// Resolved in PersistentPreRunE; subcommands only hold the pointer.
	c := client.NewClient(host, apiKey, token)

	rootCmd := &cobra.Command{
		Use:           "duck-sandbox",
		Short:         "duck-sandbox CLI",
		Long:          "Command-line interface for the duck-sandbox row-level sandboxing API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// The config file is optional.
				cfg = &UserConfig{Profiles: map[string]Profile{}}
			}
			p, err := cfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Precedence: flag > env > profile > default.
			flags := cmd.Flags()
			host = resolve(flags, "host", EnvHost, p.Host)
			apiKey = resolve(flags, "api-key", EnvAPIKey, p.APIKey)
			token = resolve(flags, "token", EnvToken, p.Token)
			output = resolve(flags, "output", EnvOutput, p.Output)
			if output == "" {
				output = client.DefaultOutput()
			}

			if err := validateOutputFormat(output); err != nil {
				return err
			}
			base, err := normalizeHost(host)
			if err != nil {
				return err
			}

			c.BaseURL = base
			c.APIKey = apiKey
			c.Token = token
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "API host URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token for authentication")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only output resource identifiers")

	rootCmd.AddCommand(newUserCmd(c))
	rootCmd.AddCommand(newGroupCmd(c))
	rootCmd.AddCommand(newSandboxCmd(c))
	rootCmd.AddCommand(newTableCmd(c))
	rootCmd.AddCommand(newQueryCmd(c))

	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve applies flag > env > profile precedence for one setting.
func resolve(flags *pflag.FlagSet, name, env, profileValue string) string {
	flagValue, _ := flags.GetString(name)
	if flags.Changed(name) {
		return flagValue
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if profileValue != "" {
		return profileValue
	}
	return flagValue
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
