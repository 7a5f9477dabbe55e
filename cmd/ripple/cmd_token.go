/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/ripple/internal/auth"
	"github.com/friendsincode/ripple/internal/models"
)

var (
	tokenUserID   string
	tokenUsername string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a participant token",
	Long: `Issue a signed participant token using RIPPLE_JWT_SIGNING_KEY.

Examples:
  # Token for user u1 valid for a day
  ripple token --user u1 --username ana --ttl 24h
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "Participant id (required)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Display name (defaults to the id)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if tokenUsername == "" {
		tokenUsername = tokenUserID
	}

	token, err := auth.NewVerifier([]byte(cfg.JWTSigningKey)).Issue(models.Principal{
		ID:       tokenUserID,
		Username: tokenUsername,
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
