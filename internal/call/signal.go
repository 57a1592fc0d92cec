package call

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/tradehub/internal/realtime"
)

// События персонального канала сигнализации.
const (
	SignalOffer     = "call-offer"
	SignalAnswer    = "call-answer"
	SignalCandidate = "ice-candidate"
	SignalEnd       = "end-call"
)

type (
	SessionDescription = webrtc.SessionDescription
	ICECandidateInit   = webrtc.ICECandidateInit
)

type OfferPayload struct {
	Caller string             `json:"caller"`
	Type   Kind               `json:"type"`
	Signal SessionDescription `json:"signal"`
	From   string             `json:"from"`
}

type AnswerPayload struct {
	Signal SessionDescription `json:"signal"`
	From   string             `json:"from"`
}

type CandidatePayload struct {
	Candidate ICECandidateInit `json:"candidate"`
	From      string           `json:"from"`
}

type EndPayload struct {
	From   string `json:"from"`
	Reason string `json:"reason,omitempty"`
}

// Signal — канал сигнализации одного пользователя: send(event, payload) / onEvent(event, handler).
type Signal interface {
	Send(ctx context.Context, event string, payload any) error
	OnEvent(ctx context.Context, event string, h func(json.RawMessage)) (off func(), err error)
	Close() error
}

// Transport выдаёт персональный канал сигнализации по id пользователя.
type Transport interface {
	Channel(userID string) Signal
}

// BrokerTransport — каналы user-signaling-<id> поверх брокера realtime.
func BrokerTransport(b realtime.Broker) Transport {
	return brokerTransport{broker: b}
}

type brokerTransport struct {
	broker realtime.Broker
}

func (t brokerTransport) Channel(userID string) Signal {
	return channelSignal{realtime.NewChannel(t.broker, realtime.SignalingChannel(userID))}
}

type channelSignal struct {
	ch *realtime.Channel
}

func (s channelSignal) Send(ctx context.Context, event string, payload any) error {
	return s.ch.Send(ctx, event, payload)
}

func (s channelSignal) OnEvent(ctx context.Context, event string, h func(json.RawMessage)) (func(), error) {
	return s.ch.OnEvent(ctx, event, h)
}

func (s channelSignal) Close() error { return s.ch.Close() }
