package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"
	"apikey-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	Pool           domain.SlotPool
	RejectStatus   int
	AcquireTimeout time.Duration
}

// ConcurrencyMiddleware limita requisições em voo para o upstream.
// Fica depois do dispatcher: só requisições admitidas disputam vaga.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil && opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := application.SlotService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, application.ErrNoSlot) {
					logField(r.Context(), fieldReason, "upstream_busy")
					writeError(w, opts.RejectStatus, "upstream_busy")
				}
				// cliente desconectou esperando vaga: não há para quem responder
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
