package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tradehub/internal/realtime"
)

type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameBroadcast   FrameType = "broadcast"
	FrameSubscribed  FrameType = "subscribed"
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
)

// IncomingFrame — кадр от браузера.
type IncomingFrame struct {
	Type    FrameType       `json:"type"`
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutgoingFrame — кадр браузеру.
type OutgoingFrame struct {
	Type    FrameType       `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func errorFrame(msg string) OutgoingFrame {
	return OutgoingFrame{Type: FrameError, Error: msg}
}

const (
	signalingPrefix = "user-signaling-"
	tablePrefix     = "realtime:"
)

// CanSubscribe: только собственные каналы пользователя.
func CanSubscribe(userID, channel string) bool {
	if userID == "" {
		return false
	}
	if channel == realtime.SignalingChannel(userID) {
		return true
	}
	if !strings.HasPrefix(channel, tablePrefix) {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(channel, tablePrefix), ":")
	return len(parts) == 2 && parts[0] != "" && parts[1] == userID
}

// CanBroadcast: из браузера публикуются только сигналы звонков, change feed пишет только сервер.
func CanBroadcast(channel string) bool {
	return strings.HasPrefix(channel, signalingPrefix) && len(channel) > len(signalingPrefix)
}

// stampSender заменяет поле from в payload сигнала на пользователя соединения.
// Принимаются только JSON-объекты; пустой payload превращается в {"from": userID}.
func stampSender(payload json.RawMessage, userID string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, errors.New("payload must be an object")
		}
	}
	from, err := json.Marshal(userID)
	if err != nil {
		return nil, err
	}
	fields["from"] = from
	return json.Marshal(fields)
}
