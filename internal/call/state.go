// Package call — координатор звонка один-на-один: явная машина состояний поверх
// внедрённого канала сигнализации, источника медиа и фабрики peer-соединений.
package call

import (
	"errors"
	"fmt"
	"time"
)

// State — состояние координатора. Одновременно существует не больше одной сессии.
type State int

const (
	StateIdle State = iota
	StateOutgoingRequested
	StateIncomingOffered
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRequested:
		return "outgoing-requested"
	case StateIncomingOffered:
		return "incoming-offered"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind — тип звонка и тип дорожки.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool { return k == KindAudio || k == KindVideo }

var (
	ErrInvalidTransition = errors.New("call: invalid transition")
	ErrNoActiveCall      = errors.New("call: no active call")
	ErrNoVideo           = errors.New("call: no video track")
	ErrInvalidPeer       = errors.New("call: invalid peer")
	ErrInvalidKind       = errors.New("call: invalid kind")
	ErrClosed            = errors.New("call: coordinator closed")
	// ErrCallCancelled — звонок завершили, пока готовились медиа и offer/answer.
	ErrCallCancelled     = errors.New("call: cancelled during setup")
)

// Причины завершения в end-call.
const (
	ReasonHangup   = "hangup"
	ReasonBusy     = "busy"
	ReasonDeclined = "declined"
	ReasonFailed   = "failed"
)

type EventType string

const (
	EventStateChanged EventType = "state-changed"
	EventIncomingCall EventType = "incoming-call"
	EventRemoteStream EventType = "remote-stream"
	EventCallEnded    EventType = "call-ended"
	EventCallFailed   EventType = "call-failed"
	EventBusyRejected EventType = "busy-rejected"
)

// Event — наблюдаемое событие координатора. Заполнены только поля, относящиеся к Type.
type Event struct {
	Type   EventType
	From   State
	To     State
	PeerID string
	Offer  *IncomingOffer
	Remote *RemoteStream
	// Reason — причина завершения; RemoteEnded — завершил собеседник.
	Reason      string
	RemoteEnded bool
	Err         error
}

// IncomingOffer — входящий звонок, ожидающий решения пользователя.
type IncomingOffer struct {
	From       string
	CallerName string
	Kind       Kind
	Offer      SessionDescription
	ReceivedAt time.Time
}

// Snapshot — состояние для отображения.
type Snapshot struct {
	State     State
	PeerID    string
	Kind      Kind
	Muted     bool
	VideoOff  bool
	HasRemote bool
	Incoming  *IncomingOffer
}
