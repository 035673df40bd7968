package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apikey-gateway/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Upstream de demonstração para rodar o gateway localmente:
//
//	LISTEN_ADDR=:8081 go run ./cmd/example-upstream
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
func main() {
	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(logger, 300*time.Millisecond),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example upstream listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newRouter(logger *zap.Logger, slowDelay time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "upstream",
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "msg": "fake login ok", "echo": body})
	})

	r.Get("/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"orderId": chi.URLParam(req, "id"),
			"status":  "CREATED",
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-time.After(slowDelay):
		case <-req.Context().Done():
			logger.Debug("slow request cancelled by caller")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("slow response ok"))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
