// Package realtime — широковещательные каналы поверх pub/sub: сигнализация звонков
// (user-signaling-<id>) и лента вставок строк (realtime:<table>:<id>).
// Доставка at-most-once, без повторов; порядок — порядок транспорта.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EventInsert — событие ленты изменений о новой строке.
const EventInsert = "INSERT"

var ErrClosed = errors.New("realtime: broker closed")

type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// Subscription — поток конвертов одного или нескольких каналов. C закрывается после Close.
type Subscription interface {
	C() <-chan Envelope
	Close() error
}

type Broker interface {
	Publish(ctx context.Context, channel string, env Envelope) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

// SignalingChannel — персональный канал сигнализации пользователя.
func SignalingChannel(userID string) string {
	return "user-signaling-" + userID
}

// TableChannel — канал вставок таблицы для участника строки.
func TableChannel(table, userID string) string {
	return "realtime:" + table + ":" + userID
}

// NewEnvelope кодирует payload в конверт события.
func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = json.RawMessage("{}")
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Channel: channel, Event: event, Payload: raw, SentAt: time.Now().UTC()}, nil
}
