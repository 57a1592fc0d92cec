// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/push"
	"github.com/tradehub/internal/startup"
	"github.com/tradehub/internal/storage"
	"github.com/tradehub/internal/storage/memory"
)

func main() {
	logger.SetPrefix("push")
	defer logger.Flush(2 * time.Second)
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	inMemory := flag.Bool("memory", false, "keep subscriptions in memory (no Redis)")
	flag.Parse()

	if *genVAPID {
		keys, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Infof("PUSH_VAPID_PUBLIC_KEY=%s", keys.PublicKey)
		logger.Infof("PUSH_VAPID_PRIVATE_KEY=%s", keys.PrivateKey)
		return
	}

	logger.Info("starting push service")
	cfg := config.Load()
	keys := push.VAPIDKeys{PublicKey: cfg.Push.VAPIDPublicKey, PrivateKey: cfg.Push.VAPIDPrivateKey}
	if !keys.Valid() {
		logger.Info("VAPID keys not set, push delivery disabled (subscriptions are still stored)")
	}

	var store storage.SubscriptionStore
	if *inMemory {
		store = memory.New()
		logger.Info("subscriptions kept in memory")
	} else {
		store = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "push")
		logger.Info("redis connected")
	}
	defer store.Close()

	dispatcher := push.NewDispatcher(store, keys, cfg.Push.Subscriber)
	server := push.NewServer(store, dispatcher, keys.PublicKey)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		server.Routes(r, middleware.InternalOnly(cfg.InternalSecret))
	})

	addr := config.ListenAddr(":8082")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
