package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tradehub/internal/model"
)

// Client вызывает сервис push. Пустой baseURL — все методы no-op.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithSecret задаёт X-Internal-Secret для служебного /api/notify.
func (c *Client) WithSecret(secret string) *Client {
	c.secret = secret
	return c
}

// SubscribeRequest — тело POST/DELETE /api/subscribe сервиса push.
type SubscribeRequest struct {
	UserID       string                 `json:"user_id"`
	Subscription model.PushSubscription `json:"subscription"`
}

// NotifyRequest — тело POST /api/notify.
type NotifyRequest struct {
	UserID  string  `json:"user_id"`
	Payload Payload `json:"payload"`
}

func (c *Client) Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error {
	return c.do(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub})
}

func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	req := SubscribeRequest{UserID: userID}
	req.Subscription.Endpoint = endpoint
	return c.do(ctx, http.MethodDelete, "/api/subscribe", req)
}

// Notify просит сервис push доставить уведомление пользователю.
func (c *Client) Notify(ctx context.Context, userID string, p Payload) error {
	return c.do(ctx, http.MethodPost, "/api/notify", NotifyRequest{UserID: userID, Payload: p})
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	if c.baseURL == "" {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Internal-Secret", c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push %s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}
