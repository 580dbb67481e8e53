package main

import (
	"fmt"
	"time"

	"github.com/HerbHall/mailpulse/internal/auth"
	"github.com/HerbHall/mailpulse/internal/config"
	"github.com/HerbHall/mailpulse/internal/server"
	"github.com/spf13/cobra"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed operator token for the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			signed, err := issueToken(*configPath, subject, r, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "name recorded in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "token role: admin or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func issueToken(configPath, subject string, role auth.Role, ttl time.Duration) (string, error) {
	v, err := server.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := config.Section(config.New(v), "auth", auth.DefaultConfig())
	if err != nil {
		return "", err
	}
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured (set MP_AUTH_JWT_SECRET)")
	}
	tokens, err := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.AccessTokenTTL)
	if err != nil {
		return "", err
	}
	return tokens.Issue(subject, role, ttl)
}
