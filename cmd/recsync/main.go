// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command recsync pulls the recordings library from the sync backend, uploads
// queued recordings and optionally serves the local control API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "recsync",
	Short: "Recording library sync client",
	Long: `recsync keeps a local recordings library in step with the sync backend.

It pulls remote changes into a SQLite library (recordings, folders, tags and
their memberships), uploads locally captured recordings, and can run as a
long-lived agent exposing a control API for UI layers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "upload", Title: "Upload Commands:"},
	)
	rootCmd.AddCommand(syncCmd, statusCmd, resetCmd, enableCmd, disableCmd)
	rootCmd.AddCommand(enqueueCmd, uploadCmd, uploadsCmd)
	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
