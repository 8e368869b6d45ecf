package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dsp/store/rest"
	"dsp/store/system"
)

func newTokenCommand(e *env) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Issue a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if e.config.Auth.Disabled {
				return fmt.Errorf("tokens are not used when auth.disabled is set")
			}
			if ttl <= 0 {
				ttl = e.config.Auth.TokenTTL
			}
			tokens, err := rest.NewTokens(e.config.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}

			records, b, err := e.records(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			rc, err := system.NewSessions(records, e.log).ResolveEmail(ctx, args[0])
			if err != nil {
				return err
			}
			token, exp, err := tokens.Create(rc.UserID)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("Token for user %s expires %s", rc.UserID, exp.Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	return cmd
}
