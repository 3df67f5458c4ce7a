// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-recsync/recsync"
)

var syncTrigger string

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull remote changes into the local library",
	Long: `Run one budgeted pull cycle.

The default manual trigger runs whenever sync is enabled and idle. The
app-start and foreground triggers also apply the staleness gate, so they skip
when the last successful sync is recent enough.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var out recsync.TriggerOutcome
			switch recsync.Trigger(syncTrigger) {
			case recsync.TriggerManual:
				var err error
				if out, err = a.engine.SyncNow(cmd.Context()); err != nil {
					return err
				}
			case recsync.TriggerAppStart:
				out = a.engine.SyncOnAppStart(cmd.Context())
			case recsync.TriggerForeground:
				out = a.engine.SyncOnForeground(cmd.Context())
			default:
				return fmt.Errorf("unknown trigger %q (must be manual, app_start or foreground)", syncTrigger)
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.Result != nil && !out.Result.Success {
				return errors.New(out.Result.ErrorMessage())
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status, upload queue and library counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			counts, err := a.store.Counts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"deviceId":   a.deviceID,
				"status":     a.engine.GetStatus(ctx),
				"config":     a.engine.GetConfiguration(),
				"shouldSync": a.engine.ShouldSync(ctx),
				"uploads": map[string]int{
					"queued":    a.queue.QueuedCount(),
					"uploading": a.queue.UploadingCount(),
					"failed":    a.queue.FailedCount(),
					"synced":    a.queue.SyncedCount(),
				},
				"library": counts,
			})
		})
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "sync",
	Short:   "Forget the sync cursor so the next pull starts from the beginning",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.engine.ResetSyncState(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync state reset")
			return nil
		})
	},
}

var enableCmd = &cobra.Command{
	Use:     "enable",
	GroupID: "sync",
	Short:   "Enable sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.engine.EnableSync(cmd.Context())
		})
	},
}

var disableCmd = &cobra.Command{
	Use:     "disable",
	GroupID: "sync",
	Short:   "Disable sync; triggers are rejected until enabled again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.engine.DisableSync(cmd.Context())
		})
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncTrigger, "trigger", string(recsync.TriggerManual), "trigger to run: manual, app_start or foreground")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
