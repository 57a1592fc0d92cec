package call

import "context"

// RemoteStream — медиа собеседника, пришедшее по peer-соединению.
type RemoteStream struct {
	ID    string
	Kinds []Kind
}

// Peer — транспорт звонка (WebRTC PeerConnection). Кандидаты, пришедшие до удалённого
// описания, обрабатывает сам транспорт.
type Peer interface {
	AddTrack(t LocalTrack) error
	// CreateOffer создаёт offer и ставит его локальным описанием.
	CreateOffer(ctx context.Context) (SessionDescription, error)
	// CreateAnswer применяет удалённый offer и возвращает answer, уже ставший локальным.
	CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	SetAnswer(answer SessionDescription) error
	AddICECandidate(c ICECandidateInit) error
	OnICECandidate(fn func(ICECandidateInit))
	OnRemoteStream(fn func(RemoteStream))
	// OnFailed вызывается, если соединение перешло в failed после установки.
	OnFailed(fn func(error))
	Close() error
}

type PeerFactory interface {
	NewPeer(ctx context.Context) (Peer, error)
}
