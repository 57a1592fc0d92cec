package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/gateway"
	"github.com/tradehub/internal/handler"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/notification"
	"github.com/tradehub/internal/payment"
	"github.com/tradehub/internal/push"
	"github.com/tradehub/internal/realtime"
	"github.com/tradehub/internal/repository"
	"github.com/tradehub/internal/startup"
)

func main() {
	logger.SetPrefix("api")
	defer logger.Flush(2 * time.Second)
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "embedded PostgreSQL, in-process broker and websocket gateway (no external services)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startup.StartEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "api")
	defer pool.Close()

	res, err := startup.Migrate(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("migrate: %v", err)
		os.Exit(1)
	}
	logger.Infof("migrations: version=%d changed=%v", res.Version, res.Changed)
	if *migrateOnly {
		return
	}

	var broker realtime.Broker
	if *dev {
		broker = realtime.NewMemoryBroker()
	} else {
		rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "api")
		defer rdb.Close()
		broker = realtime.NewRedisBroker(rdb.Raw())
	}
	defer broker.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	bgWg.Add(1)
	go func() {
		defer bgWg.Done()
		realtime.NewListener(pool, broker).Run(bgCtx)
	}()

	var hub *gateway.Hub
	if *dev {
		hub = gateway.NewHub(broker, gateway.Options{
			MaxConns:       cfg.MaxWSConnections,
			SendBuffer:     cfg.WSSendBufferSize,
			MaxMessageSize: int64(cfg.WSMaxMessageSize),
		})
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			hub.Run(bgCtx)
		}()
	}

	msgRepo := repository.NewMessageRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	pushClient := push.NewClient(cfg.Push.ServiceURL).WithSecret(cfg.InternalSecret)
	notifications := notification.NewService(notifRepo, pushClient)

	msgH := handler.NewMessageHandler(msgRepo, profileRepo, notifications)
	convH := handler.NewConversationHandler(convRepo)
	profileH := handler.NewProfileHandler(profileRepo)
	notifH := handler.NewNotificationHandler(notifRepo, notifications)
	configH := handler.NewConfigHandler(cfg)
	pushH := handler.NewPushHandler(pushClient)
	payments := payment.NewProxy(cfg.PaymentServiceURL)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.UserHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/call", configH.GetCallConfig)
	r.Get("/api/config/push", configH.GetPushConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TrustedUser)
		if cfg.RateLimit {
			r.Use(middleware.RateLimitAPI)
		}
		r.Get("/api/messages", msgH.GetMessages)
		r.Post("/api/messages", msgH.SendMessage)
		r.Post("/api/messages/read", msgH.MarkRead)
		r.Get("/api/conversations", convH.List)
		r.Get("/api/profiles", profileH.List)
		r.Get("/api/profiles/me", profileH.GetMe)
		r.Put("/api/profiles/me", profileH.UpdateMe)
		r.Get("/api/profiles/{id}", profileH.Get)
		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications", notifH.Create)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Post(payment.CheckoutPath, payments.CreateCheckoutSession)
		r.Post(payment.MobileMoneyPath, payments.InitiateMobileMoney)
	})
	if hub != nil {
		wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
		r.With(middleware.TrustedUser).Get("/realtime/ws", wsH.ServeWS)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	bgCancel()
	bgWg.Wait()
	logger.Info("change feed and gateway stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}
