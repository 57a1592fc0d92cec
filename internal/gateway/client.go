package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single websocket connection and its broker subscriptions.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump, forward...] -> Close -> Wait.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingFrame
	userID string

	mu   sync.Mutex
	subs map[string]realtime.Subscription

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingFrame, hub.opts.SendBuffer),
		userID: userID,
		subs:   make(map[string]realtime.Subscription),
		done:   make(chan struct{}),
	}
}

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until the pumps and subscription forwarders have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop and releases its subscriptions.
// Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		close(c.done)
		subs := c.subs
		c.subs = make(map[string]realtime.Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

func (c *Client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[channel]
	return ok
}

// addSubscription регистрирует подписку; после Close подписка сразу закрывается.
func (c *Client) addSubscription(channel string, sub realtime.Subscription) bool {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		sub.Close()
		return false
	default:
	}
	if _, dup := c.subs[channel]; dup {
		c.mu.Unlock()
		sub.Close()
		return false
	}
	c.subs[channel] = sub
	c.wg.Add(1)
	c.mu.Unlock()
	return true
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// readPump reads frames from the websocket connection.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("gateway set read deadline user=%s conn=%s: %v", c.userID, c.id, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("gateway read error user=%s conn=%s: %v", c.userID, c.id, err)
			}
			return
		}

		var f IncomingFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.hub.sendToClient(c, errorFrame("invalid frame"))
			continue
		}
		c.hub.HandleFrame(ctx, c, f)
	}
}

// writePump writes frames to the websocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("gateway set write deadline user=%s conn=%s: %v", c.userID, c.id, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("gateway marshal error user=%s conn=%s: %v", c.userID, c.id, err)
				continue
			}
			// json.Encoder appends '\n'; trim it for websocket text messages.
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("gateway set write deadline user=%s conn=%s: %v", c.userID, c.id, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
