package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type contextKey string

const userIDKey contextKey = "user_id"

// sharedSecret header names.
const (
	headerGameSecret    = "X-Game-Secret"
	headerWebhookSecret = "X-Webhook-Secret"
	headerUserID        = "X-User-ID"
)

// requireSharedSecret rejects requests whose secret header does not match.
// An empty configured secret disables the check (local development).
func requireSharedSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" &&
				subtle.ConstantTimeCompare([]byte(r.Header.Get(header)), []byte(secret)) != 1 {
				respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireUser extracts the authenticated user from the identity header the
// gateway injects. Requests without it are rejected.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing user identity"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// requestLogger logs one line per request with method, path, status and
// latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
