package main

import (
	"fmt"
	"time"

	"github.com/dkeye/collabhub/internal/adapters/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development credential signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("ttl") {
				ttl = a.cfg.Auth.TokenTTL
			}
			authn, err := auth.NewJWTAuthenticator(auth.Config{
				Secret:   a.cfg.Auth.Secret,
				Issuer:   a.cfg.Auth.Issuer,
				TokenTTL: ttl,
			})
			if err != nil {
				return err
			}
			token, err := authn.Mint(args[0], name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return cmd
}
