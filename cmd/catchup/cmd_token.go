/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/catchup/internal/auth"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a signed bearer token for the ops API using CATCHUP_API_JWT_SECRET.

Scopes:
  sweeps:read   read sweep history, items and the event stream
  sweeps:run    trigger sweeps and schedule items

Examples:
  # Read-only token for a dashboard, valid for 30 days
  catchup token --subject dashboard --scopes sweeps:read --ttl 720h

  # Operator token
  catchup token --subject ops --scopes sweeps:read,sweeps:run
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (required)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", []string{auth.ScopeRead}, "Granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.APIJWTSecret == "" {
		return fmt.Errorf("CATCHUP_API_JWT_SECRET is not set")
	}
	for _, scope := range tokenScopes {
		if scope != auth.ScopeRead && scope != auth.ScopeOperate {
			return fmt.Errorf("unknown scope %q", scope)
		}
	}

	token, err := auth.Issue([]byte(cfg.APIJWTSecret), tokenSubject, tokenScopes, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
