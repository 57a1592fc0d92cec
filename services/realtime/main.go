// Realtime-шлюз: websocket браузеров поверх pub/sub Redis (сигнализация звонков и лента вставок).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/gateway"
	"github.com/tradehub/internal/handler"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/realtime"
	"github.com/tradehub/internal/startup"
)

func main() {
	logger.SetPrefix("realtime")
	defer logger.Flush(2 * time.Second)
	cfg := config.Load()
	addr := config.ListenAddr(":8085")
	logger.Infof("starting realtime gateway: addr=%s max_conns=%d", addr, cfg.MaxWSConnections)

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "realtime")
	defer rdb.Close()
	broker := realtime.NewRedisBroker(rdb.Raw())

	hub := gateway.NewHub(broker, gateway.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBuffer:     cfg.WSSendBufferSize,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.With(middleware.TrustedUser).Get("/realtime/ws", wsH.ServeWS)

	// Без WriteTimeout: соединения websocket долгоживущие, таймауты у пампов.
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: cfg.ReadTimeout, IdleTimeout: cfg.IdleTimeout}
	go func() {
		logger.Infof("realtime gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("realtime: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("realtime gateway shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("realtime shutdown: %v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("realtime gateway stopped")
}
