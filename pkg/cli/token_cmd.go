package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"duck-sandbox/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Authentication token helpers",
	}
	cmd.AddCommand(newTokenMintCmd())
	return cmd
}

func newTokenMintCmd() *cobra.Command {
	var (
		subject string
		secret  string
		name    string
		email   string
		ttl     time.Duration
		noSave  bool
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a shared-secret JWT and save it to the active profile",
		Long: "Sign an HS256 JWT with the server's JWT_SECRET. The subject becomes the principal name, " +
			"so a token for an existing user acts as that user.",
		Example: `  # Act as the seeded sandboxed user
  duck-sandbox token mint --subject sandboxed --secret $JWT_SECRET

  # Print a short-lived admin token without touching the config
  duck-sandbox token mint --subject root --secret $JWT_SECRET --ttl 15m --no-save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signed, err := middleware.MintSharedSecretToken(secret, subject, ttl, map[string]string{
				"name":  name,
				"email": email,
			})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			if !noSave {
				cfg := loadOrNewUserConfig()
				profile := cfg.activeName()
				cfg.CurrentProfile = profile
				p := cfg.Profiles[profile]
				p.Token = signed
				cfg.Profiles[profile] = p
				if err := SaveUserConfig(cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Principal name (JWT sub claim)")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (HS256)")
	cmd.Flags().StringVar(&name, "name", "", "Optional name claim")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Print the token without saving it")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}
