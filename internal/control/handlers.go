// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mobiletoly/go-recsync/internal/runctx"
	"github.com/mobiletoly/go-recsync/recsync"
)

type handlers struct {
	deps   *Deps
	logger *slog.Logger
}

// UploadsResponse lists the upload queue with per-status counts
type UploadsResponse struct {
	Items     []recsync.QueueItem `json:"items"`
	Queued    int                 `json:"queued"`
	Uploading int                 `json:"uploading"`
	Failed    int                 `json:"failed"`
	Synced    int                 `json:"synced"`
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.GetStatus(r.Context()))
}

func (h *handlers) shouldSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.ShouldSync(r.Context()))
}

func (h *handlers) syncNow(w http.ResponseWriter, r *http.Request) {
	h.logCaller(r, "manual sync requested")
	out, err := h.deps.Engine.SyncNow(r.Context())
	if errors.Is(err, recsync.ErrSyncDisabled) {
		writeError(w, h.logger, http.StatusConflict, "sync_disabled", err.Error())
		return
	}
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "sync_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) syncAppStart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.SyncOnAppStart(r.Context()))
}

func (h *handlers) syncForeground(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.SyncOnForeground(r.Context()))
}

func (h *handlers) enable(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Engine.EnableSync(r.Context()); err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "enable_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Engine.GetConfiguration())
}

func (h *handlers) disable(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Engine.DisableSync(r.Context()); err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "disable_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Engine.GetConfiguration())
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	h.logCaller(r, "sync state reset requested")
	err := h.deps.Engine.ResetSyncState(r.Context())
	switch {
	case errors.Is(err, recsync.ErrSyncRunning):
		writeError(w, h.logger, http.StatusConflict, "sync_running", err.Error())
	case err != nil:
		writeError(w, h.logger, http.StatusInternalServerError, "reset_failed", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.GetConfiguration())
}

func (h *handlers) patchConfig(w http.ResponseWriter, r *http.Request) {
	var patch recsync.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Failed to parse configuration patch")
		return
	}
	cfg, err := h.deps.Engine.UpdateConfiguration(r.Context(), patch)
	switch {
	case errors.Is(err, recsync.ErrInvalidConfig):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, recsync.ErrSyncRunning):
		writeError(w, h.logger, http.StatusConflict, "sync_running", err.Error())
	case err != nil:
		writeError(w, h.logger, http.StatusInternalServerError, "update_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, cfg)
	}
}

func (h *handlers) listUploads(w http.ResponseWriter, r *http.Request) {
	q := h.deps.Queue
	writeJSON(w, http.StatusOK, UploadsResponse{
		Items:     q.Items(),
		Queued:    q.QueuedCount(),
		Uploading: q.UploadingCount(),
		Failed:    q.FailedCount(),
		Synced:    q.SyncedCount(),
	})
}

func (h *handlers) enqueueUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Queue.Enqueue(r.Context(), id); err != nil {
		h.logger.Error("enqueue not persisted", "recording_id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	item, _ := h.deps.Queue.Get(id)
	writeJSON(w, http.StatusAccepted, item)
}

func (h *handlers) retryUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.Queue.RetryItem(r.Context(), id)
	if errors.Is(err, recsync.ErrItemNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if errors.Is(err, recsync.ErrNotRetryable) {
		writeError(w, h.logger, http.StatusConflict, "not_retryable", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("retry not persisted", "recording_id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	item, _ := h.deps.Queue.Get(id)
	writeJSON(w, http.StatusOK, item)
}

func (h *handlers) libraryCounts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Library == nil {
		writeError(w, h.logger, http.StatusNotImplemented, "not_available", "Library statistics are not available for this storage")
		return
	}
	counts, err := h.deps.Library.Counts(r.Context())
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "counts_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *handlers) logCaller(r *http.Request, msg string) {
	userID, _ := runctx.UserID(r.Context())
	deviceID, _ := runctx.DeviceID(r.Context())
	h.logger.Info(msg, "user_id", userID, "device_id", deviceID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, recsync.ErrorResponse{Error: errorCode, Message: message})
	logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
