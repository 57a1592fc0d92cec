// Микросервис объектного хранилища: бакеты на диске, публичные ссылки и подписанные.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/objectstore"
)

func main() {
	logger.SetPrefix("files")
	defer logger.Flush(2 * time.Second)
	cfg := config.Load()
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		logger.Errorf("storage dir %s: %v", cfg.Storage.Dir, err)
		os.Exit(1)
	}
	logger.Infof("starting files service: dir=%s max_upload_mb=%d public=%v",
		cfg.Storage.Dir, cfg.Storage.MaxUploadSize>>20, cfg.Storage.PublicBuckets)

	store := objectstore.New(cfg.Storage)
	h := objectstore.NewHandler(store)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.CORSAllowedOrigins},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.UserHeader},
		MaxAge:         300,
	}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/storage", func(r chi.Router) {
		h.Routes(r, middleware.InternalOnly(cfg.InternalSecret))
	})

	addr := config.ListenAddr(":8083")
	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: cfg.ReadTimeout, WriteTimeout: 60 * time.Second}
	go func() {
		logger.Infof("files listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("files: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("files shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("files shutdown: %v", err)
	}
	logger.Info("files stopped")
}
