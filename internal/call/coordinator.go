package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tradehub/internal/logger"
)

const (
	defaultEventBuffer = 64
	signalTimeout      = 5 * time.Second
)

// Identity — локальный пользователь.
type Identity struct {
	ID   string
	Name string
}

type Options struct {
	Self      Identity
	Transport Transport
	Media     MediaSource
	Peers     PeerFactory
	// EventBuffer — ёмкость канала Events; при переполнении события теряются с записью в лог.
	EventBuffer int
}

// session — активный звонок. Владеет локальными медиа, peer и исходящим каналом собеседника.
type session struct {
	peerID string
	kind   Kind
	out    Signal
	local  LocalStream
	peer   Peer
	// announced — собеседник уже знает о звонке (offer отправлен или получен).
	announced bool

	mu     sync.Mutex
	remote *RemoteStream
}

func (s *session) setRemote(rs RemoteStream) {
	s.mu.Lock()
	s.remote = &rs
	s.mu.Unlock()
}

func (s *session) hasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil
}

func (s *session) release() {
	if s.local != nil {
		s.local.Stop()
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			logger.Errorf("call: close peer %s: %v", s.peerID, err)
		}
	}
	if err := s.out.Close(); err != nil {
		logger.Errorf("call: close signaling to %s: %v", s.peerID, err)
	}
}

// Coordinator — машина состояний звонка. Переходы и обработчики сигналов выполняются под
// одним мьютексом; захват медиа и offer/answer идут без него. Колбэки peer его не берут.
type Coordinator struct {
	self      Identity
	transport Transport
	media     MediaSource
	peers     PeerFactory
	events    chan Event

	mu       sync.Mutex
	state    State
	sess     *session
	incoming *IncomingOffer
	inbox    Signal
	offs     []func()
	closed   bool
}

func NewCoordinator(opts Options) *Coordinator {
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}
	return &Coordinator{
		self:      opts.Self,
		transport: opts.Transport,
		media:     opts.Media,
		peers:     opts.Peers,
		events:    make(chan Event, buf),
	}
}

// Events — поток событий координатора. Канал не закрывается.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Start подписывается на собственный канал сигнализации.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.inbox != nil {
		return nil
	}
	inbox := c.transport.Channel(c.self.ID)
	handlers := map[string]func(json.RawMessage){
		SignalOffer:     c.onOffer,
		SignalAnswer:    c.onAnswer,
		SignalCandidate: c.onCandidate,
		SignalEnd:       c.onEnd,
	}
	for event, h := range handlers {
		off, err := inbox.OnEvent(ctx, event, h)
		if err != nil {
			for _, o := range c.offs {
				o()
			}
			c.offs = nil
			inbox.Close()
			return fmt.Errorf("call: subscribe %s: %w", event, err)
		}
		c.offs = append(c.offs, off)
	}
	c.inbox = inbox
	logger.Infof("call: listening for signals user=%s", c.self.ID)
	return nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state}
	if c.incoming != nil {
		in := *c.incoming
		snap.Incoming = &in
	}
	if s := c.sess; s != nil {
		snap.PeerID = s.peerID
		snap.Kind = s.kind
		snap.HasRemote = s.hasRemote()
		if s.local != nil {
			snap.Muted = !anyEnabled(s.local, KindAudio)
			snap.VideoOff = s.kind == KindVideo && !anyEnabled(s.local, KindVideo)
		}
	}
	return snap
}

// StartCall: idle -> outgoing-requested. Медиа, peer, offer; offer уходит в канал собеседника.
// Медиа и сбор ICE идут без мьютекса: busy-ответы и end-call в это время обрабатываются.
// Если звонок завершили до отправки offer, возвращается ErrCallCancelled.
func (c *Coordinator) StartCall(ctx context.Context, peerID string, kind Kind) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !kind.Valid() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if peerID == "" || peerID == c.self.ID {
		c.mu.Unlock()
		return ErrInvalidPeer
	}
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start call in %s", ErrInvalidTransition, state)
	}
	s := &session{peerID: peerID, kind: kind, out: c.transport.Channel(peerID)}
	c.sess = s
	c.setState(StateOutgoingRequested)
	c.mu.Unlock()

	local, peer, offer, stage, err := c.prepare(ctx, s, "offer", func(p Peer) (SessionDescription, error) {
		return p.CreateOffer(ctx)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.adopt(s, local, peer) {
		return ErrCallCancelled
	}
	if err != nil {
		return c.fail(stage, err)
	}
	payload := OfferPayload{Caller: c.self.Name, Type: kind, Signal: offer, From: c.self.ID}
	if err := s.out.Send(ctx, SignalOffer, payload); err != nil {
		return c.fail("signal", fmt.Errorf("send offer: %w", err))
	}
	s.announced = true
	logger.Infof("call: offer sent to=%s kind=%s", peerID, kind)
	return nil
}

// AnswerCall: incoming-offered -> connected. Как и StartCall, готовит медиа и answer без мьютекса.
func (c *Coordinator) AnswerCall(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIncomingOffered || c.incoming == nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: answer in %s", ErrInvalidTransition, state)
	}
	offer := c.incoming
	c.incoming = nil
	s := &session{peerID: offer.From, kind: offer.Kind, out: c.transport.Channel(offer.From), announced: true}
	c.sess = s
	c.mu.Unlock()

	local, peer, answer, stage, err := c.prepare(ctx, s, "answer", func(p Peer) (SessionDescription, error) {
		return p.CreateAnswer(ctx, offer.Offer)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.adopt(s, local, peer) {
		return ErrCallCancelled
	}
	if err != nil {
		return c.fail(stage, err)
	}
	if err := s.out.Send(ctx, SignalAnswer, AnswerPayload{Signal: answer, From: c.self.ID}); err != nil {
		return c.fail("signal", fmt.Errorf("send answer: %w", err))
	}
	c.setState(StateConnected)
	logger.Infof("call: answered from=%s kind=%s", offer.From, offer.Kind)
	return nil
}

// prepare захватывает медиа, создаёт peer и выполняет negotiate. Вызывается без c.mu.
// Возвращает всё, что успело создаться, чтобы adopt или fail это освободили.
func (c *Coordinator) prepare(ctx context.Context, s *session, stage string,
	negotiate func(Peer) (SessionDescription, error)) (LocalStream, Peer, SessionDescription, string, error) {
	local, err := c.media.Acquire(ctx, s.kind)
	if err != nil {
		return nil, nil, SessionDescription{}, "media", fmt.Errorf("acquire %s media: %w", s.kind, err)
	}
	peer, err := c.connectPeer(ctx, s, local)
	if err != nil {
		return local, peer, SessionDescription{}, "peer", err
	}
	desc, err := negotiate(peer)
	if err != nil {
		return local, peer, SessionDescription{}, stage, err
	}
	return local, peer, desc, "", nil
}

// adopt отдаёт подготовленные медиа и peer сессии. Если сессию уже сняли (EndCall, end-call,
// Close), освобождает их и возвращает false. Вызывается под c.mu.
func (c *Coordinator) adopt(s *session, local LocalStream, peer Peer) bool {
	if c.sess == s {
		s.local, s.peer = local, peer
		return true
	}
	if local != nil {
		local.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			logger.Errorf("call: close abandoned peer %s: %v", s.peerID, err)
		}
	}
	logger.Infof("call: setup with %s cancelled", s.peerID)
	return false
}

func (c *Coordinator) DeclineCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIncomingOffered || c.incoming == nil {
		return fmt.Errorf("%w: decline in %s", ErrInvalidTransition, c.state)
	}
	c.declineLocked(ctx)
	return nil
}

func (c *Coordinator) declineLocked(ctx context.Context) {
	from := c.incoming.From
	c.incoming = nil
	c.replyEnd(ctx, from, ReasonDeclined)
	c.setState(StateIdle)
	c.emit(Event{Type: EventCallEnded, PeerID: from, Reason: ReasonDeclined})
}

// EndCall завершает звонок в любом состоянии. В idle ничего не делает,
// во входящем звонке отклоняет его.
func (c *Coordinator) EndCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateIncomingOffered && c.incoming != nil:
		c.declineLocked(ctx)
	case c.sess != nil:
		peerID := c.sess.peerID
		c.teardown(ctx, ReasonHangup, true)
		c.emit(Event{Type: EventCallEnded, PeerID: peerID, Reason: ReasonHangup})
	}
	return nil
}

// ToggleMute переключает аудиодорожки на месте, без пересогласования. Возвращает muted.
func (c *Coordinator) ToggleMute() (bool, error) {
	return c.toggle(KindAudio)
}

// ToggleVideo переключает видеодорожки. Возвращает videoOff.
func (c *Coordinator) ToggleVideo() (bool, error) {
	return c.toggle(KindVideo)
}

func (c *Coordinator) toggle(kind Kind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.local == nil {
		return false, ErrNoActiveCall
	}
	found := false
	for _, t := range c.sess.local.Tracks() {
		if t.Kind() != kind {
			continue
		}
		found = true
		t.SetEnabled(!t.Enabled())
	}
	if !found {
		if kind == KindVideo {
			return false, ErrNoVideo
		}
		return false, ErrNoActiveCall
	}
	return !anyEnabled(c.sess.local, kind), nil
}

// Close завершает активный звонок и отписывается от канала сигнализации.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ctx := context.Background()
	if c.state == StateIncomingOffered && c.incoming != nil {
		c.declineLocked(ctx)
	}
	if c.sess != nil {
		c.teardown(ctx, ReasonHangup, true)
	}
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	inbox := c.inbox
	c.inbox = nil
	c.mu.Unlock()
	// вне мьютекса: Close канала ждёт диспетчер, который может ждать мьютекс
	if inbox != nil {
		return inbox.Close()
	}
	return nil
}

// connectPeer создаёт peer, вешает колбэки и добавляет локальные дорожки.
// При ошибке AddTrack peer тоже возвращается, чтобы его закрыли.
func (c *Coordinator) connectPeer(ctx context.Context, s *session, local LocalStream) (Peer, error) {
	peer, err := c.peers.NewPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("new peer: %w", err)
	}
	out, from := s.out, c.self.ID
	peer.OnICECandidate(func(cand ICECandidateInit) {
		sendCtx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()
		if err := out.Send(sendCtx, SignalCandidate, CandidatePayload{Candidate: cand, From: from}); err != nil {
			logger.Errorf("call: send candidate to %s: %v", s.peerID, err)
		}
	})
	peer.OnRemoteStream(func(rs RemoteStream) {
		s.setRemote(rs)
		c.emit(Event{Type: EventRemoteStream, PeerID: s.peerID, Remote: &rs})
	})
	peer.OnFailed(func(err error) {
		// колбэк может прийти синхронно из вызова под мьютексом
		go c.peerFailed(s, err)
	})
	for _, t := range local.Tracks() {
		if err := peer.AddTrack(t); err != nil {
			return peer, err
		}
	}
	return peer, nil
}

func (c *Coordinator) peerFailed(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	c.fail("transport", err)
}

// fail прерывает попытку: освобождает ресурсы, сообщает собеседнику, если он знает о звонке,
// переходит в idle и публикует call-failed. Возвращает err для вызывающего.
func (c *Coordinator) fail(stage string, err error) error {
	failures.WithLabelValues(stage).Inc()
	peerID := ""
	if c.sess != nil {
		peerID = c.sess.peerID
		c.teardown(context.Background(), ReasonFailed, c.sess.announced)
	}
	c.setState(StateIdle)
	logger.Errorf("call: %s failed peer=%s: %v", stage, peerID, err)
	c.emit(Event{Type: EventCallFailed, PeerID: peerID, Reason: ReasonFailed, Err: err})
	return err
}

// teardown освобождает сессию. notify=false, когда звонок завершён пришедшим end-call.
func (c *Coordinator) teardown(ctx context.Context, reason string, notify bool) {
	s := c.sess
	c.sess = nil
	if s == nil {
		c.setState(StateIdle)
		return
	}
	if notify {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
		if err := s.out.Send(sendCtx, SignalEnd, EndPayload{From: c.self.ID, Reason: reason}); err != nil {
			logger.Errorf("call: send end-call to %s: %v", s.peerID, err)
		}
		cancel()
	}
	s.release()
	c.setState(StateIdle)
}

// replyEnd отправляет end-call пользователю, с которым нет сессии (busy, declined).
func (c *Coordinator) replyEnd(ctx context.Context, to, reason string) {
	ch := c.transport.Channel(to)
	defer ch.Close()
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, SignalEnd, EndPayload{From: c.self.ID, Reason: reason}); err != nil {
		logger.Errorf("call: send end-call (%s) to %s: %v", reason, to, err)
	}
}

func (c *Coordinator) onOffer(raw json.RawMessage) {
	var p OfferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Errorf("call: malformed offer: %v", err)
		return
	}
	if p.From == "" || p.From == c.self.ID || !p.Type.Valid() {
		logger.Errorf("call: rejected offer from=%q type=%q", p.From, p.Type)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	offer := &IncomingOffer{From: p.From, CallerName: p.Caller, Kind: p.Type, Offer: p.Signal, ReceivedAt: time.Now()}
	switch {
	case c.state == StateIdle:
		c.incoming = offer
		c.setState(StateIncomingOffered)
		c.emit(Event{Type: EventIncomingCall, PeerID: p.From, Offer: offer})
	case c.state == StateIncomingOffered && c.incoming != nil && c.incoming.From == p.From:
		// повторный offer того же звонящего заменяет ожидающий
		c.incoming = offer
		c.emit(Event{Type: EventIncomingCall, PeerID: p.From, Offer: offer})
	case c.state == StateIncomingOffered && c.sess != nil && c.sess.peerID == p.From:
		// answer уже готовится; busy-ответ оборвал бы этот же звонок
		logger.Debugf("call: ignored repeated offer from=%s while answering", p.From)
	default:
		logger.Infof("call: busy, rejecting offer from=%s state=%s", p.From, c.state)
		c.replyEnd(context.Background(), p.From, ReasonBusy)
		c.emit(Event{Type: EventBusyRejected, PeerID: p.From, Reason: ReasonBusy})
	}
}

func (c *Coordinator) onAnswer(raw json.RawMessage) {
	var p AnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Errorf("call: malformed answer: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOutgoingRequested || c.sess == nil || c.sess.peerID != p.From {
		logger.Debugf("call: ignored answer from=%s state=%s", p.From, c.state)
		return
	}
	if err := c.sess.peer.SetAnswer(p.Signal); err != nil {
		c.fail("answer", err)
		return
	}
	c.setState(StateConnected)
	logger.Infof("call: connected peer=%s", p.From)
}

func (c *Coordinator) onCandidate(raw json.RawMessage) {
	var p CandidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Errorf("call: malformed candidate: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.peer == nil || c.sess.peerID != p.From {
		logger.Debugf("call: dropped candidate from=%s state=%s", p.From, c.state)
		return
	}
	if err := c.sess.peer.AddICECandidate(p.Candidate); err != nil {
		c.fail("candidate", err)
	}
}

func (c *Coordinator) onEnd(raw json.RawMessage) {
	var p EndPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Errorf("call: malformed end-call: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reason := p.Reason
	if reason == "" {
		reason = ReasonHangup
	}
	switch {
	case c.state == StateIncomingOffered && c.incoming != nil && c.incoming.From == p.From:
		c.incoming = nil
		c.setState(StateIdle)
		c.emit(Event{Type: EventCallEnded, PeerID: p.From, Reason: reason, RemoteEnded: true})
	case c.sess != nil && c.sess.peerID == p.From:
		// без ответного end-call, иначе эхо
		c.teardown(context.Background(), reason, false)
		c.emit(Event{Type: EventCallEnded, PeerID: p.From, Reason: reason, RemoteEnded: true})
		logger.Infof("call: ended by peer=%s reason=%s", p.From, reason)
	default:
		logger.Debugf("call: ignored end-call from=%s state=%s", p.From, c.state)
	}
}

func (c *Coordinator) setState(to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.emit(Event{Type: EventStateChanged, From: from, To: to})
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		logger.Errorf("call: event buffer full, dropped %s", ev.Type)
	}
}

func anyEnabled(stream LocalStream, kind Kind) bool {
	for _, t := range stream.Tracks() {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}
