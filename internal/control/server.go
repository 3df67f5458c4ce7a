// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package control exposes the sync engine and upload queue to local UI and
// integration layers over HTTP, with status pushed over a WebSocket.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mobiletoly/go-recsync/recsync"
)

// LibraryStats reports how many entities of each kind are stored locally
type LibraryStats interface {
	Counts(ctx context.Context) (map[recsync.EntityType]int, error)
}

// Deps holds dependencies for the control router
type Deps struct {
	Engine  *recsync.Engine
	Queue   *recsync.UploadQueue
	Auth    *recsync.TokenIssuer
	Library LibraryStats // optional
	Logger  *slog.Logger
}

// NewRouter creates the control API router
func NewRouter(deps *Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware(deps.Auth, deps.Logger))

		r.Get("/status", h.getStatus)
		r.Get("/status/stream", h.streamStatus)
		r.Get("/should-sync", h.shouldSync)

		r.Post("/sync", h.syncNow)
		r.Post("/sync/app-start", h.syncAppStart)
		r.Post("/sync/foreground", h.syncForeground)
		r.Post("/sync/enable", h.enable)
		r.Post("/sync/disable", h.disable)
		r.Post("/sync/reset", h.reset)

		r.Get("/config", h.getConfig)
		r.Patch("/config", h.patchConfig)

		r.Get("/uploads", h.listUploads)
		r.Post("/uploads/{id}", h.enqueueUpload)
		r.Post("/uploads/{id}/retry", h.retryUpload)

		r.Get("/library/counts", h.libraryCounts)
	})
	return r
}

// Server runs the control API until its context ends
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

// NewServer creates a server listening on addr
func NewServer(addr string, deps *Deps) *Server {
	return &Server{addr: addr, handler: NewRouter(deps), logger: deps.Logger}
}

// Run listens until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down control API: %w", err)
		}
		return nil
	}
}
