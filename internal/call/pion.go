package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/logger"
)

const defaultGatherTimeout = 3 * time.Second

var errConnectionFailed = errors.New("peer connection failed")

// ICEServers переводит конфигурацию STUN/TURN в формат pion.
func ICEServers(servers []config.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// PionFactory создаёт PeerConnection на pion/webrtc с кодеками и интерсепторами по умолчанию.
type PionFactory struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
}

func NewPionFactory(servers []config.IceServer) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &PionFactory{
		api:           api,
		config:        webrtc.Configuration{ICEServers: ICEServers(servers)},
		gatherTimeout: defaultGatherTimeout,
	}, nil
}

func (f *PionFactory) NewPeer(_ context.Context) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &pionPeer{pc: pc, gatherTimeout: f.gatherTimeout}
	pc.OnICECandidate(p.handleCandidate)
	pc.OnTrack(p.handleTrack)
	pc.OnConnectionStateChange(p.handleState)
	return p, nil
}

type pionPeer struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	onCandidate func(ICECandidateInit)
	onRemote    func(RemoteStream)
	onFailed    func(error)
	remoteKinds map[string][]Kind
}

func (p *pionPeer) AddTrack(t LocalTrack) error {
	src, ok := t.(interface{ TrackLocal() webrtc.TrackLocal })
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedTrack, t)
	}
	sender, err := p.pc.AddTrack(src.TrackLocal())
	if err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	// RTCP нужно вычитывать, иначе интерсепторы не работают
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

func (p *pionPeer) CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if err := p.setRemote(offer); err != nil {
		return SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

func (p *pionPeer) SetAnswer(answer SessionDescription) error {
	return p.setRemote(answer)
}

// setLocal ставит локальное описание и ждёт сбора кандидатов не дольше gatherTimeout:
// описание несёт уже собранные кандидаты, остальные идут через OnICECandidate.
func (p *pionPeer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	timer := time.NewTimer(p.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		logger.Debugf("call: ice gathering still running after %v", p.gatherTimeout)
	case <-ctx.Done():
		return SessionDescription{}, ctx.Err()
	}
	if local := p.pc.LocalDescription(); local != nil {
		return *local, nil
	}
	return desc, nil
}

func (p *pionPeer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}
	return nil
}

// AddICECandidate до удалённого описания ставит кандидата в очередь транспорта.
func (p *pionPeer) AddICECandidate(c ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) OnICECandidate(fn func(ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnRemoteStream(fn func(RemoteStream)) {
	p.mu.Lock()
	p.onRemote = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnFailed(fn func(error)) {
	p.mu.Lock()
	p.onFailed = fn
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func (p *pionPeer) handleCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c.ToJSON())
	}
}

func (p *pionPeer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}
	p.mu.Lock()
	if p.remoteKinds == nil {
		p.remoteKinds = make(map[string][]Kind)
	}
	p.remoteKinds[track.StreamID()] = append(p.remoteKinds[track.StreamID()], kind)
	stream := RemoteStream{ID: track.StreamID(), Kinds: append([]Kind(nil), p.remoteKinds[track.StreamID()]...)}
	fn := p.onRemote
	p.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
	// headless-клиент не воспроизводит медиа, но RTP надо вычитывать
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

func (p *pionPeer) handleState(state webrtc.PeerConnectionState) {
	logger.Debugf("call: peer connection state %s", state)
	if state != webrtc.PeerConnectionStateFailed {
		return
	}
	p.mu.Lock()
	fn := p.onFailed
	p.mu.Unlock()
	if fn != nil {
		fn(errConnectionFailed)
	}
}
