// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-recsync/recsync"
)

var (
	tokenUser   string
	tokenDevice string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a control API token signed with control.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Control.JWTSecret == "" {
			return errors.New("control.jwt_secret (or RECSYNC_JWT_SECRET) is not set")
		}
		tok, err := recsync.NewTokenIssuer(cfg.Control.JWTSecret).GenerateToken(tokenUser, tokenDevice, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "local", "subject (user id)")
	tokenCmd.Flags().StringVar(&tokenDevice, "device", "cli", "device id claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
