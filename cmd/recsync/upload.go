// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-recsync/recsync"
)

var (
	enqueueID          string
	enqueueTitle       string
	enqueueContentType string
	enqueueDuration    float64
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <file>",
	GroupID: "upload",
	Short:   "Import a recording file into the library and queue it for upload",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			src, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer src.Close()

			id := enqueueID
			if id == "" {
				id = uuid.NewString()
			}
			size, err := a.blobs.Import(ctx, id, src)
			if err != nil {
				return err
			}

			title := enqueueTitle
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			contentType := enqueueContentType
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			now := time.Now().UTC()
			rec := &recsync.Recording{
				ID:          id,
				Title:       title,
				DurationSec: enqueueDuration,
				ContentType: contentType,
				SizeBytes:   size,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := a.store.UpsertEntity(ctx, rec); err != nil {
				return err
			}
			if err := a.queue.Enqueue(ctx, id); err != nil {
				return err
			}
			a.logger.Info("recording queued", "recording_id", id, "size_bytes", size)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:     "upload",
	GroupID: "upload",
	Short:   "Upload every eligible queued recording, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var uploaded, failed int
			for {
				processed, err := a.uploader.ProcessNext(cmd.Context())
				if !processed {
					if err != nil {
						return err
					}
					break
				}
				if err != nil {
					failed++
					continue
				}
				uploaded++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d, failed %d, still queued %d\n",
				uploaded, failed, a.queue.QueuedCount()+a.queue.FailedCount())
			if failed > 0 {
				return fmt.Errorf("%d upload(s) failed", failed)
			}
			return nil
		})
	},
}

var uploadRetryID string

var uploadsCmd = &cobra.Command{
	Use:     "uploads",
	GroupID: "upload",
	Short:   "List upload queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if uploadRetryID != "" {
				if err := a.queue.RetryItem(cmd.Context(), uploadRetryID); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), a.queue.Items())
		})
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueID, "id", "", "recording id (default: new UUID)")
	enqueueCmd.Flags().StringVar(&enqueueTitle, "title", "", "recording title (default: file name)")
	enqueueCmd.Flags().StringVar(&enqueueContentType, "content-type", "", "content type (default: from extension)")
	enqueueCmd.Flags().Float64Var(&enqueueDuration, "duration", 0, "duration in seconds")

	uploadsCmd.Flags().StringVar(&uploadRetryID, "retry", "", "reset a failed item to queued before listing")
}
