package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/tradehub/internal/logger"
)

// LocalTrack — локальная дорожка. Отключение меняет флаг на месте, без пересогласования:
// отключённая дорожка идёт тишиной или чёрными кадрами.
type LocalTrack interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

type LocalStream interface {
	Tracks() []LocalTrack
	Stop()
}

// MediaSource захватывает локальные медиа: аудио, плюс видео для KindVideo.
type MediaSource interface {
	Acquire(ctx context.Context, kind Kind) (LocalStream, error)
}

var ErrUnsupportedTrack = errors.New("call: track cannot be attached to this peer")

const opusFrameDuration = 20 * time.Millisecond

// opusSilence — кадр Opus с тишиной (20ms).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource — медиа без устройств для headless-клиента: Opus дорожка с тишиной и VP8 дорожка.
type SyntheticSource struct{}

func (SyntheticSource) Acquire(ctx context.Context, kind Kind) (LocalStream, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "softphone-" + uuid.NewString()
	audio, err := newSyntheticTrack(KindAudio, webrtc.MimeTypeOpus, streamID)
	if err != nil {
		return nil, err
	}
	stream := &syntheticStream{tracks: []LocalTrack{audio}}
	if kind == KindVideo {
		video, err := newSyntheticTrack(KindVideo, webrtc.MimeTypeVP8, streamID)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		stream.tracks = append(stream.tracks, video)
	}
	return stream, nil
}

type syntheticStream struct {
	tracks []LocalTrack
}

func (s *syntheticStream) Tracks() []LocalTrack { return s.tracks }

func (s *syntheticStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

type syntheticTrack struct {
	kind    Kind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newSyntheticTrack(kind Kind, mime, streamID string) (*syntheticTrack, error) {
	tl, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &syntheticTrack{kind: kind, track: tl, done: make(chan struct{})}
	t.enabled.Store(true)
	if kind == KindAudio {
		go t.pumpSilence()
	}
	return t, nil
}

// pumpSilence пишет кадры тишины, пока дорожка не остановлена. До подключения к peer
// WriteSample ничего не отправляет.
func (t *syntheticTrack) pumpSilence() {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				logger.Debugf("synthetic audio write: %v", err)
			}
		}
	}
}

func (t *syntheticTrack) ID() string { return t.track.ID() }
func (t *syntheticTrack) Kind() Kind { return t.kind }
func (t *syntheticTrack) Enabled() bool { return t.enabled.Load() }
func (t *syntheticTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *syntheticTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

func (t *syntheticTrack) Stopped() bool { return t.stopped.Load() }
