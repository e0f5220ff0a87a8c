package cmd

import (
	"fmt"
	"log"

	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenName  string
	tokenRoles []string
)

// tokenCmd mints a development access token; identities come from an external IdP in production.
var tokenCmd = &cobra.Command{
	Use:   "token [email]",
	Short: "Issue an access token for local testing",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		manager := auth.NewJWTTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration)
		token, err := manager.Issue(auth.Principal{
			Email: args[0],
			Name:  tokenName,
			Roles: tokenRoles,
		})
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to grant, repeatable (e.g. --role finance)")
}
