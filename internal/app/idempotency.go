package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abdialidrus/scm-mining/internal/platform/httpx"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// IdempotencyHeader lets clients retry a write without repeating it.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyKeys claims and releases request keys.
type IdempotencyKeys interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// idempotencyMiddleware rejects a replayed write carrying an already claimed
// key. Keys are scoped per actor and released again when the request fails.
func idempotencyMiddleware(store IdempotencyKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if raw == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > 128 {
				httpx.RespondError(w, shared.Invalid(IdempotencyHeader, "must be at most 128 characters"))
				return
			}
			actor, _ := shared.ActorFromContext(r.Context())
			key := fmt.Sprintf("%d:%s", actor.ID, raw)

			err := store.CheckAndInsert(r.Context(), key, moduleOf(r.URL.Path))
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "a request with this Idempotency-Key was already processed")
				return
			}
			if err != nil {
				logger.Error("claim idempotency key", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}

			rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusBadRequest {
				if err := store.Delete(context.WithoutCancel(r.Context()), key); err != nil {
					logger.Warn("release idempotency key", slog.Any("error", err))
				}
			}
		})
	}
}

func moduleOf(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
