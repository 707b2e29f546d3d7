/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/tablemix/internal/auth"
)

var tokenFlags struct {
	user string
	role string
	ttl  time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a relay access token",
	Long:  "Sign a JWT with TABLEMIX_JWT_SIGNING_KEY. Operators (role dm) may publish batches; viewers only listen. --room scopes the token to one room.",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenFlags.user, "user", "", "user id (random when empty)")
	tokenCmd.Flags().StringVar(&tokenFlags.role, "role", auth.RoleViewer, "role: dm or viewer")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 12*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("TABLEMIX_JWT_SIGNING_KEY is required to issue tokens")
	}
	if tokenFlags.role != auth.RoleOperator && tokenFlags.role != auth.RoleViewer {
		return fmt.Errorf("unknown role %q", tokenFlags.role)
	}
	user := tokenFlags.user
	if user == "" {
		user = uuid.NewString()
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		UserID: user,
		Roles:  []string{tokenFlags.role},
		RoomID: relayFlags.room,
	}, tokenFlags.ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
