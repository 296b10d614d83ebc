package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var role string
	var subject string
	var ttl int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			r := auth.Role(strings.ToLower(strings.TrimSpace(role)))
			if !auth.IsValidRole(r) {
				return fmt.Errorf("%w: %q (want viewer, operator or admin)", auth.ErrInvalidRole, role)
			}
			if strings.TrimSpace(subject) == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				ttl = cfg.Security.JWT.AccessTokenTTL
			}

			token, err := auth.GenerateAccessToken(subject, r, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "Role to grant: viewer, operator or admin")
	cmd.Flags().StringVar(&subject, "subject", "canvas", "Token subject, shown in audit logs")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Lifetime in minutes (default security.jwt.access_token_ttl)")
	return cmd
}
