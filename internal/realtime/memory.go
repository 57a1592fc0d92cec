package realtime

import (
	"context"
	"sync"

	"github.com/tradehub/internal/logger"
)

const memorySubBuffer = 256

// MemoryBroker — брокер в памяти процесса (тесты, один процесс без Redis).
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	broker   *MemoryBroker
	channels []string
	ch       chan Envelope
	once     sync.Once
}

func (s *memorySub) C() <-chan Envelope { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.ch)
	})
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	env.Channel = channel
	for s := range b.subs[channel] {
		select {
		case s.ch <- env:
		default:
			logger.Errorf("realtime memory: subscriber buffer full, dropped %s on %s", env.Event, channel)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySub{broker: b, channels: channels, ch: make(chan Envelope, memorySubBuffer)}
	for _, name := range channels {
		set, ok := b.subs[name]
		if !ok {
			set = make(map[*memorySub]struct{})
			b.subs[name] = set
		}
		set[s] = struct{}{}
	}
	return s, nil
}

func (b *MemoryBroker) remove(s *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range s.channels {
		if set, ok := b.subs[name]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, name)
			}
		}
	}
}

// Subscribers — число подписок на канал (для тестов освобождения ресурсов).
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	return nil
}
