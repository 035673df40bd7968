// Package gateway monta o roteador HTTP do gateway: dispatcher de admissão na
// frente de tudo, rotas administrativas locais e o forwarder em /api/*.
package gateway

import (
	"net/http"

	"apikey-gateway/middleware/ratelimit"
	"apikey-gateway/middleware/ratelimit/application"
	"apikey-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Config struct {
	Admission application.AdmissionService
	// Forwarder recebe só requisições admitidas.
	Forwarder   http.Handler
	Stats       domain.StatsReader
	Concurrency ratelimit.ConcurrencyOptions
	KeyHeader   string
	AccessLog   bool
	Logger      *zap.Logger
}

func NewRouter(cfg Config) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	if cfg.AccessLog {
		router.Use(ratelimit.AccessLog())
	}
	router.Use(middleware.Recoverer)
	router.Use(ratelimit.Middleware(ratelimit.Options{
		Admission:   cfg.Admission,
		KeyHeader:   cfg.KeyHeader,
		APIPrefix:   ratelimit.DefaultAPIPrefix,
		AdminPrefix: ratelimit.DefaultAdminPrefix,
		Logger:      cfg.Logger.Named("dispatcher"),
	}))

	router.Route(ratelimit.DefaultAdminPrefix, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			ratelimit.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		if cfg.Stats != nil {
			r.Get("/stats", ratelimit.StatsHandler(cfg.Stats))
		}
	})

	router.With(ratelimit.ConcurrencyMiddleware(cfg.Concurrency)).
		Handle(ratelimit.DefaultAPIPrefix+"*", cfg.Forwarder)

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		ratelimit.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		ratelimit.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})

	return router
}
