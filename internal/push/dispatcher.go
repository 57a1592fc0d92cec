package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/storage"
)

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradehub",
	Subsystem: "push",
	Name:      "deliveries_total",
	Help:      "Web push delivery attempts by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(deliveries)
}

// Payload — то, что получает service worker браузера.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendFunc отправляет одно уведомление; по умолчанию webpush.SendNotificationWithContext.
type SendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Dispatcher доставляет push всем подпискам пользователя и чистит протухшие (404/410).
type Dispatcher struct {
	store storage.SubscriptionStore
	opts  *webpush.Options
	send  SendFunc
}

// NewDispatcher. Пустые ключи VAPID — доставка отключена, подписки продолжают сохраняться.
func NewDispatcher(store storage.SubscriptionStore, keys VAPIDKeys, subscriber string) *Dispatcher {
	d := &Dispatcher{store: store, send: webpush.SendNotificationWithContext}
	if keys.PublicKey != "" && keys.PrivateKey != "" {
		d.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return d
}

// WithSender подменяет транспорт (тесты).
func (d *Dispatcher) WithSender(send SendFunc) *Dispatcher {
	d.send = send
	return d
}

func (d *Dispatcher) Enabled() bool { return d.opts != nil }

// Deliver отправляет payload на все подписки userID. Возвращает число успешных доставок.
func (d *Dispatcher) Deliver(ctx context.Context, userID string, p Payload) (int, error) {
	subs, err := d.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("push.Deliver: %w", err)
	}
	if d.opts == nil || len(subs) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("push.Deliver encode: %w", err)
	}
	delivered := 0
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := d.send(ctx, body, wpSub, d.opts)
		if err != nil {
			deliveries.WithLabelValues("error").Inc()
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			deliveries.WithLabelValues("expired").Inc()
			if err := d.store.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push remove expired subscription: %v", err)
			}
		case resp.StatusCode >= 300:
			deliveries.WithLabelValues("rejected").Inc()
			logger.Errorf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		default:
			deliveries.WithLabelValues("ok").Inc()
			delivered++
		}
	}
	return delivered, nil
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}

// FromNotification строит payload push из уведомления.
func FromNotification(n model.Notification) Payload {
	data := map[string]string{"type": string(n.Type)}
	if n.Link != "" {
		data["link"] = n.Link
	}
	if n.ID != "" {
		data["notification_id"] = n.ID
	}
	return Payload{Title: n.Title, Body: n.Message, Data: data}
}
