package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tradehub/internal/logger"
)

// RedisBroker — каналы поверх Redis PUBLISH/SUBSCRIBE. Несколько процессов (API, шлюз,
// softphone) видят одни и те же каналы.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, env Envelope) error {
	env.Channel = channel
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime.Publish encode: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("realtime.Publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channels...)
	// Receive дожидается подтверждения подписки, иначе первые PUBLISH могут потеряться.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("realtime.Subscribe %v: %w", channels, err)
	}
	s := &redisSub{ps: ps, ch: make(chan Envelope, memorySubBuffer)}
	go s.pump()
	return s, nil
}

// Close no-op: клиентом Redis владеет вызывающий.
func (b *RedisBroker) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Envelope
	once sync.Once
}

func (s *redisSub) C() <-chan Envelope { return s.ch }

func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logger.Errorf("realtime redis: bad envelope on %s: %v", msg.Channel, err)
			continue
		}
		env.Channel = msg.Channel
		select {
		case s.ch <- env:
		default:
			logger.Errorf("realtime redis: subscriber buffer full, dropped %s on %s", env.Event, msg.Channel)
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
