package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kevin07696/payment-orchestrator/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		role   string
		ttl    time.Duration
		secret string
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Sign a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if issuer == "" {
				issuer = os.Getenv("JWT_ISSUER")
			}
			if secret == "" {
				return errors.New("JWT_SECRET is not set; pass --secret")
			}
			token, err := auth.GenerateToken(secret, issuer, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", `role claim, e.g. "admin" for the dispute endpoints`)
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim (default $JWT_ISSUER)")
	return cmd
}
