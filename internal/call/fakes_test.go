package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	id      string
	kind    Kind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(id string, kind Kind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Kind() Kind { return t.kind }
func (t *fakeTrack) Enabled() bool { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *fakeTrack) Stop() { t.stopped.Store(true) }

type fakeStream struct {
	tracks []*fakeTrack
}

func (s *fakeStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// fakeMedia запоминает выданные потоки; err имитирует отказ в доступе к устройствам.
// gate, если задан, держит Acquire до закрытия (долгий запрос разрешения у пользователя);
// entered получает сигнал при входе в Acquire.
type fakeMedia struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	gate    chan struct{}
	entered chan struct{}
}

func (m *fakeMedia) Acquire(_ context.Context, kind Kind) (LocalStream, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeStream{tracks: []*fakeTrack{newFakeTrack("audio", KindAudio)}}
	if kind == KindVideo {
		s.tracks = append(s.tracks, newFakeTrack("video", KindVideo))
	}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMedia) last() *fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

func (m *fakeMedia) allStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		for _, t := range s.tracks {
			if !t.stopped.Load() {
				return false
			}
		}
	}
	return true
}

type fakePeer struct {
	mu         sync.Mutex
	tracks     []LocalTrack
	candidates []ICECandidateInit
	remoteSet  bool
	closed     bool
	answerErr  error
	onCand     func(ICECandidateInit)
	onRemote   func(RemoteStream)
	onFailed   func(error)
}

func (p *fakePeer) AddTrack(t LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (SessionDescription, error) {
	p.mu.Lock()
	onCand := p.onCand
	p.mu.Unlock()
	if onCand != nil {
		onCand(ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"})
	}
	return SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(_ context.Context, offer SessionDescription) (SessionDescription, error) {
	p.mu.Lock()
	p.remoteSet = true
	onRemote := p.onRemote
	p.mu.Unlock()
	if onRemote != nil {
		onRemote(RemoteStream{ID: "remote", Kinds: []Kind{KindAudio}})
	}
	return SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetAnswer(SessionDescription) error {
	p.mu.Lock()
	if p.answerErr != nil {
		p.mu.Unlock()
		return p.answerErr
	}
	p.remoteSet = true
	onRemote := p.onRemote
	p.mu.Unlock()
	if onRemote != nil {
		onRemote(RemoteStream{ID: "remote", Kinds: []Kind{KindAudio}})
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(ICECandidateInit)) {
	p.mu.Lock()
	p.onCand = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteStream(fn func(RemoteStream)) {
	p.mu.Lock()
	p.onRemote = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnFailed(fn func(error)) {
	p.mu.Lock()
	p.onFailed = fn
	p.mu.Unlock()
}

func (p *fakePeer) fail(err error) {
	p.mu.Lock()
	fn := p.onFailed
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type fakePeerFactory struct {
	mu        sync.Mutex
	err       error
	answerErr error
	peers     []*fakePeer
}

func (f *fakePeerFactory) NewPeer(context.Context) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{answerErr: f.answerErr}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakePeerFactory) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.peers {
		if !p.isClosed() {
			return false
		}
	}
	return true
}

var errDenied = errors.New("permission denied")
