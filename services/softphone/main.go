// Headless-клиент: переписка и звонки от имени пользователя через те же каналы, что и браузер.
// Медиа синтетические (тишина Opus, VP8), поэтому годится для проверки сигнализации и нагрузочных тестов.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradehub/internal/call"
	"github.com/tradehub/internal/chat"
	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/notification"
	"github.com/tradehub/internal/objectstore"
	"github.com/tradehub/internal/push"
	"github.com/tradehub/internal/realtime"
	"github.com/tradehub/internal/repository"
	"github.com/tradehub/internal/startup"
)

func main() {
	logger.SetPrefix("softphone")
	defer logger.Flush(2 * time.Second)
	userID := flag.String("user", "", "profile id of the local user (uuid)")
	name := flag.String("name", "", "display name sent with call offers")
	peer := flag.String("peer", "", "open the conversation with this user on start")
	autoAnswer := flag.Bool("auto-answer", false, "answer incoming calls automatically")
	dial := flag.String("call", "", "start a call on start: audio or video (requires -peer)")
	flag.Parse()

	if _, err := uuid.Parse(*userID); err != nil {
		logger.Errorf("-user must be a uuid: %v", err)
		os.Exit(2)
	}
	cfg := config.Load()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 4
	pool := startup.ConnectDBWithRetry(poolCfg, 30*time.Second, "softphone")
	defer pool.Close()

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 30*time.Second, "softphone")
	defer rdb.Close()
	broker := realtime.NewRedisBroker(rdb.Raw())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := chat.NewRepoStore(pool)
	self := model.Profile{ID: *userID, Username: *name}
	if p, err := repository.NewProfileRepository(pool).GetByID(ctx, *userID); err == nil {
		self = *p
		if *name != "" {
			self.Username = *name
		}
	}

	notifier := notification.NewService(
		repository.NewNotificationRepository(pool),
		push.NewClient(cfg.Push.ServiceURL).WithSecret(cfg.InternalSecret),
	)
	sync := chat.New(chat.Options{
		Self:     self,
		Store:    store,
		Broker:   broker,
		Uploader: objectstore.NewClient(cfg.FileServiceURL),
		Notifier: notifier,
	})

	peers, err := call.NewPionFactory(cfg.CallICEServers)
	if err != nil {
		logger.Errorf("webrtc: %v", err)
		os.Exit(1)
	}
	coord := call.NewCoordinator(call.Options{
		Self:      call.Identity{ID: self.ID, Name: self.Username},
		Transport: call.BrokerTransport(broker),
		Media:     call.SyntheticSource{},
		Peers:     peers,
	})
	if err := coord.Start(ctx); err != nil {
		logger.Errorf("call coordinator: %v", err)
		os.Exit(1)
	}
	defer coord.Close()

	c := &console{ctx: ctx, out: os.Stdout, sync: sync, coord: coord, autoAnswer: *autoAnswer}
	go func() {
		if err := sync.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("chat realtime: %v", err)
		}
	}()
	go c.watchMessages()
	go c.watchCalls()

	if _, err := sync.LoadContacts(ctx); err != nil {
		logger.Errorf("load contacts: %v", err)
	}
	c.printContacts()
	if *peer != "" {
		c.exec("/open " + *peer)
		if *dial != "" {
			c.exec("/" + *dial)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info("softphone stopping")
			return
		case line, ok := <-lines:
			if !ok {
				// stdin закрыт: остаёмся на связи до сигнала (режим автоответчика).
				lines = nil
				continue
			}
			if !c.exec(line) {
				return
			}
		}
	}
}
