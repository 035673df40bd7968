package ratelimit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/nhalm/canonlog"
)

// AccessLog emite uma linha canônica por requisição (canonlog).
// O dispatcher acrescenta outcome, api_key_plan, route_class, reason e remaining quando presente.
func AccessLog() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := canonlog.NewContext(r.Context())
			start := time.Now()

			canonlog.InfoAddMany(ctx, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			if id := middleware.GetReqID(ctx); id != "" {
				canonlog.InfoAdd(ctx, "request_id", id)
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				canonlog.InfoAddMany(ctx, map[string]any{
					"status":      ww.Status(),
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
				})
				canonlog.Flush(ctx)
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

const (
	fieldOutcome    = "outcome"
	fieldPlan       = "api_key_plan"
	fieldRouteClass = "route_class"
	fieldReason     = "reason"
	fieldRemaining  = "remaining"
	fieldRetryAfter = "retry_after_s"
)

var addLogField = func(ctx context.Context, key string, value any) {
	canonlog.InfoAdd(ctx, key, value)
}

func logStage(ctx context.Context, s Stage) { logField(ctx, fieldOutcome, s.String()) }

// logField só escreve quando AccessLog está ativo na cadeia.
func logField(ctx context.Context, key string, value any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		addLogField(ctx, key, value)
	}
}
