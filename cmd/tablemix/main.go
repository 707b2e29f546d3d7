/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/tablemix/internal/config"
	"github.com/friendsincode/tablemix/internal/logging"
	"github.com/friendsincode/tablemix/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

// relay connection flags shared by the client commands.
var relayFlags struct {
	url   string
	room  string
	token string
}

var rootCmd = &cobra.Command{
	Use:     "tablemix",
	Short:   "tablemix - shared audio mixer for virtual tabletop rooms",
	Long:    "tablemix relays mixer batches between the players of a room and renders the room's BGM and SFX channels locally.",
	Version: version.String(),
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&relayFlags.url, "relay", envOr("TABLEMIX_RELAY_URL", "http://127.0.0.1:8080"), "room relay base URL")
	pf.StringVar(&relayFlags.room, "room", os.Getenv("TABLEMIX_ROOM"), "room id")
	pf.StringVar(&relayFlags.token, "token", os.Getenv("TABLEMIX_TOKEN"), "bearer token for the relay")

	rootCmd.AddCommand(serveCmd, listenCmd, sendCmd, cueCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func requireRoom() error {
	if relayFlags.room == "" {
		return fmt.Errorf("--room (or TABLEMIX_ROOM) is required")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
