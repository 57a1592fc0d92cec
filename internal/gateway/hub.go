// Package gateway — websocket-шлюз для браузеров: подписка на собственные каналы
// брокера realtime и публикация сигналов звонков.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/realtime"
)

const (
	defaultMaxConns   = 10000
	defaultSendBuffer = 256
	defaultMaxMessage = 65536
	publishTimeout    = 5 * time.Second
)

type Options struct {
	MaxConns       int
	SendBuffer     int
	MaxMessageSize int64
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	opts       Options
	broker     realtime.Broker
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(broker realtime.Broker, opts Options) *Hub {
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessage
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		opts:       opts,
		broker:     broker,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()
	connections.Set(0)

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("gateway connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	connections.Inc()
	logger.Debugf("gateway connected user=%s conn=%s", c.userID, c.id)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	connections.Dec()

	// Network I/O outside the lock.
	c.Close()
}

// Connections — число зарегистрированных соединений пользователя.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HandleFrame dispatches incoming websocket frames.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, f IncomingFrame) {
	switch f.Type {
	case FrameSubscribe:
		h.handleSubscribe(ctx, c, f)
	case FrameUnsubscribe:
		c.unsubscribe(f.Channel)
	case FrameBroadcast:
		h.handleBroadcast(ctx, c, f)
	default:
		h.sendToClient(c, errorFrame("unknown frame type"))
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, f IncomingFrame) {
	if !CanSubscribe(c.userID, f.Channel) {
		h.sendToClient(c, errorFrame("channel not allowed: "+f.Channel))
		return
	}
	if c.subscribed(f.Channel) {
		h.sendToClient(c, OutgoingFrame{Type: FrameSubscribed, Channel: f.Channel})
		return
	}
	sub, err := h.broker.Subscribe(ctx, f.Channel)
	if err != nil {
		logger.Errorf("gateway subscribe %s user=%s: %v", f.Channel, c.userID, err)
		h.sendToClient(c, errorFrame("subscribe failed"))
		return
	}
	if !c.addSubscription(f.Channel, sub) {
		return
	}
	h.sendToClient(c, OutgoingFrame{Type: FrameSubscribed, Channel: f.Channel})
	go h.forward(c, sub)
}

// forward пересылает конверты подписки клиенту до закрытия подписки.
func (h *Hub) forward(c *Client, sub realtime.Subscription) {
	defer c.wg.Done()
	for env := range sub.C() {
		h.sendToClient(c, OutgoingFrame{
			Type:    FrameEvent,
			Channel: env.Channel,
			Event:   env.Event,
			Payload: env.Payload,
		})
		relayed.WithLabelValues("out").Inc()
	}
}

func (h *Hub) handleBroadcast(ctx context.Context, c *Client, f IncomingFrame) {
	if !CanBroadcast(f.Channel) {
		h.sendToClient(c, errorFrame("broadcast not allowed: "+f.Channel))
		return
	}
	if f.Event == "" {
		h.sendToClient(c, errorFrame("event required"))
		return
	}
	// from всегда пользователь соединения: получатель сверяет его с собеседником звонка.
	payload, err := stampSender(f.Payload, c.userID)
	if err != nil {
		h.sendToClient(c, errorFrame("payload must be a JSON object"))
		return
	}
	env, err := realtime.NewEnvelope(f.Channel, f.Event, payload)
	if err != nil {
		h.sendToClient(c, errorFrame("invalid payload"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := h.broker.Publish(ctx, f.Channel, env); err != nil {
		logger.Errorf("gateway publish %s user=%s: %v", f.Channel, c.userID, err)
		h.sendToClient(c, errorFrame("publish failed"))
		return
	}
	relayed.WithLabelValues("in").Inc()
}

func (h *Hub) sendToClient(c *Client, f OutgoingFrame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("gateway send buffer full, closing slow client user=%s conn=%s", c.userID, c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
