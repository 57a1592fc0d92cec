package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tradehub/internal/logger"
)

// Handler получает payload события канала.
type Handler func(payload json.RawMessage)

// Channel — именованный широковещательный канал с send/onEvent.
// Подписка на брокер создаётся лениво при первом обработчике и снимается в Close.
type Channel struct {
	broker Broker
	name   string

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	sub      Subscription
	done     chan struct{}
	closed   bool
}

func NewChannel(broker Broker, name string) *Channel {
	return &Channel{
		broker:   broker,
		name:     name,
		handlers: make(map[string]map[uint64]Handler),
	}
}

func (c *Channel) Name() string { return c.name }

// Send публикует событие в канал. Собственные подписчики канала тоже его получат.
func (c *Channel) Send(ctx context.Context, event string, payload any) error {
	env, err := NewEnvelope(c.name, event, payload)
	if err != nil {
		return fmt.Errorf("channel %s encode %s: %w", c.name, event, err)
	}
	return c.broker.Publish(ctx, c.name, env)
}

// OnEvent регистрирует обработчик события. Возвращённая функция снимает обработчик.
// Обработчики вызываются последовательно из одной горутины в порядке доставки.
func (c *Channel) OnEvent(ctx context.Context, event string, h Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sub == nil {
		sub, err := c.broker.Subscribe(ctx, c.name)
		if err != nil {
			return nil, err
		}
		c.sub = sub
		c.done = make(chan struct{})
		go c.dispatch(sub, c.done)
	}
	set, ok := c.handlers[event]
	if !ok {
		set = make(map[uint64]Handler)
		c.handlers[event] = set
	}
	c.nextID++
	id := c.nextID
	set[id] = h
	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}, nil
}

func (c *Channel) dispatch(sub Subscription, done chan struct{}) {
	defer close(done)
	for env := range sub.C() {
		c.mu.Lock()
		hs := make([]Handler, 0, len(c.handlers[env.Event]))
		for _, h := range c.handlers[env.Event] {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		if len(hs) == 0 {
			logger.Debugf("channel %s: no handler for %s", c.name, env.Event)
			continue
		}
		for _, h := range hs {
			h(env.Payload)
		}
	}
}

// Close снимает подписку и ждёт завершения диспетчера. Повторный вызов безопасен.
// Из обработчика этого же канала вызывать нельзя: Close ждёт выхода диспетчера.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, done := c.sub, c.done
	c.handlers = make(map[string]map[uint64]Handler)
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}
