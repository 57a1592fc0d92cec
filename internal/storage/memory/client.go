package memory

import (
	"context"
	"sync"

	"github.com/tradehub/internal/model"
)

const maxSubsPerUser = 10

// Client — хранилище подписок в памяти процесса (режим -dev, тесты).
type Client struct {
	mu   sync.RWMutex
	subs map[string][]model.PushSubscription
}

func New() *Client {
	return &Client{subs: make(map[string][]model.PushSubscription)}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddSubscription(_ context.Context, userID string, sub model.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := without(c.subs[userID], sub.Endpoint)
	list = append(list, sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) ListSubscriptions(_ context.Context, userID string) ([]model.PushSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.PushSubscription(nil), c.subs[userID]...), nil
}

func (c *Client) RemoveSubscription(_ context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := without(c.subs[userID], endpoint)
	if len(list) == 0 {
		delete(c.subs, userID)
		return nil
	}
	c.subs[userID] = list
	return nil
}

func without(list []model.PushSubscription, endpoint string) []model.PushSubscription {
	out := list[:0:0]
	for _, s := range list {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}
