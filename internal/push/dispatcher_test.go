package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/storage/memory"
)

func subscription(endpoint string) model.PushSubscription {
	var s model.PushSubscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256"
	s.Keys.Auth = "auth"
	return s
}

func response(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}
}

func TestDispatcher_DeliverRemovesExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.AddSubscription(ctx, "u1", subscription("https://push/ok")))
	require.NoError(t, store.AddSubscription(ctx, "u1", subscription("https://push/gone")))
	require.NoError(t, store.AddSubscription(ctx, "u1", subscription("https://push/err")))

	var sent []string
	d := NewDispatcher(store, VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:t@t").
		WithSender(func(_ context.Context, payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
			sent = append(sent, sub.Endpoint)
			assert.Contains(t, string(payload), "Nouveau message")
			switch sub.Endpoint {
			case "https://push/gone":
				return response(http.StatusGone), nil
			case "https://push/err":
				return nil, errors.New("network")
			}
			return response(http.StatusCreated), nil
		})

	n, err := d.Deliver(ctx, "u1", Payload{Title: "Nouveau message de Amani", Body: "Bonjour"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sent, 3)

	left, _ := store.ListSubscriptions(ctx, "u1")
	require.Len(t, left, 2)
	for _, s := range left {
		assert.NotEqual(t, "https://push/gone", s.Endpoint)
	}
}

func TestDispatcher_DisabledWithoutKeys(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.AddSubscription(ctx, "u1", subscription("https://push/ok")))
	d := NewDispatcher(store, VAPIDKeys{}, "").WithSender(func(context.Context, []byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
		t.Fatal("must not send without VAPID keys")
		return nil, nil
	})
	assert.False(t, d.Enabled())
	n, err := d.Deliver(ctx, "u1", Payload{Title: "x"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFromNotification(t *testing.T) {
	p := FromNotification(model.Notification{ID: "n1", Title: "T", Message: "M", Type: model.NotificationMessage, Link: "/discussions"})
	assert.Equal(t, "T", p.Title)
	assert.Equal(t, "M", p.Body)
	assert.Equal(t, "/discussions", p.Data["link"])
	assert.Equal(t, "message", p.Data["type"])
}
