/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/auth"
)

var (
	tokenProducer string
	tokenScopes   []string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a queue producer",
	Long: `Issue a bearer token signed with PLAYOUT_API_JWT_SECRET.

Examples:
  # Token for the chat bot that may enqueue and read
  playoutd token --producer chatbot --scope queue:write --scope read --ttl 720h
`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenProducer, "producer", "", "Producer name recorded in logs")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeQueueWrite, auth.ScopeRead}, "Granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 = no expiry)")
	_ = tokenCmd.MarkFlagRequired("producer")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.APIJWTSecret == "" {
		return errors.New("PLAYOUT_API_JWT_SECRET is not set")
	}

	token, err := auth.Issue([]byte(cfg.APIJWTSecret), tokenProducer, tokenScopes, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
