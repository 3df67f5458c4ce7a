// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mobiletoly/go-recsync/internal/runctx"
	"github.com/mobiletoly/go-recsync/recsync"
)

// authMiddleware validates the bearer token and stores the caller in the
// request context. Browsers cannot set headers on WebSocket upgrades, so
// an access_token query parameter is accepted as well.
func authMiddleware(issuer *recsync.TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("access_token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				bearerToken := strings.Split(authHeader, " ")
				if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
					writeError(w, logger, http.StatusUnauthorized, "authentication_failed", "Invalid authorization header format")
					return
				}
				token = bearerToken[1]
			}
			if token == "" {
				writeError(w, logger, http.StatusUnauthorized, "authentication_failed", "Authorization header required")
				return
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				tokenPrefix := token
				if len(tokenPrefix) > 20 {
					tokenPrefix = tokenPrefix[:20]
				}
				logger.Warn("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
				writeError(w, logger, http.StatusUnauthorized, "authentication_failed", "Invalid token")
				return
			}

			ctx := runctx.SetCaller(r.Context(), claims.Subject, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
