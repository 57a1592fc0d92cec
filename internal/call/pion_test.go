package call

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehub/internal/config"
)

func TestICEServers(t *testing.T) {
	servers := ICEServers([]config.IceServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "secret"},
	})
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Empty(t, servers[0].Username)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)
}

func newOfflinePeer(t *testing.T, kind Kind) (Peer, LocalStream) {
	t.Helper()
	factory, err := NewPionFactory(nil)
	require.NoError(t, err)
	factory.gatherTimeout = 500 * time.Millisecond
	peer, err := factory.NewPeer(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	stream, err := SyntheticSource{}.Acquire(context.Background(), kind)
	require.NoError(t, err)
	t.Cleanup(stream.Stop)
	for _, tr := range stream.Tracks() {
		require.NoError(t, peer.AddTrack(tr))
	}
	return peer, stream
}

func TestPionPeer_OfferAnswer(t *testing.T) {
	ctx := context.Background()
	caller, _ := newOfflinePeer(t, KindVideo)
	callee, _ := newOfflinePeer(t, KindVideo)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	answer, err := callee.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "m=audio")

	require.NoError(t, caller.SetAnswer(answer))
}

func TestPionPeer_CandidateBeforeRemoteDescriptionIsQueued(t *testing.T) {
	peer, _ := newOfflinePeer(t, KindAudio)
	// без удалённого описания pion отклонил бы кандидата
	err := peer.AddICECandidate(ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host"})
	assert.NoError(t, err)
}

func TestPionPeer_RejectsForeignTrack(t *testing.T) {
	peer, _ := newOfflinePeer(t, KindAudio)
	err := peer.AddTrack(newFakeTrack("x", KindAudio))
	assert.ErrorIs(t, err, ErrUnsupportedTrack)
}

func TestSyntheticSource(t *testing.T) {
	stream, err := SyntheticSource{}.Acquire(context.Background(), KindVideo)
	require.NoError(t, err)
	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, KindAudio, tracks[0].Kind())
	assert.Equal(t, KindVideo, tracks[1].Kind())
	assert.True(t, tracks[0].Enabled())

	stream.Stop()
	for _, tr := range tracks {
		assert.True(t, tr.(*syntheticTrack).Stopped())
	}

	_, err = SyntheticSource{}.Acquire(context.Background(), Kind("screen"))
	assert.ErrorIs(t, err, ErrInvalidKind)
}
