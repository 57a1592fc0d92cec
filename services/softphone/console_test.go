package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehub/internal/call"
	"github.com/tradehub/internal/chat"
	"github.com/tradehub/internal/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
		ok   bool
	}{
		{"", command{}, false},
		{"   ", command{}, false},
		{"bonjour", command{name: "send", arg: "bonjour"}, true},
		{"/open  abc ", command{name: "open", arg: "abc"}, true},
		{"/VIDEO", command{name: "video"}, true},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

type fakeSync struct {
	active string
	sent   []string
	opened []string
}

func (f *fakeSync) Contacts() []model.Contact { return nil }
func (f *fakeSync) Active() string            { return f.active }
func (f *fakeSync) Open(_ context.Context, id, _ string) ([]model.Message, error) {
	f.opened = append(f.opened, id)
	f.active = id
	return []model.Message{{SenderID: id, Text: "salut"}}, nil
}
func (f *fakeSync) Send(_ context.Context, text string) (chat.SendResult, error) {
	f.sent = append(f.sent, text)
	return chat.SendResult{Persisted: true}, nil
}
func (f *fakeSync) SendFile(context.Context, string, string, io.Reader) (chat.SendResult, error) {
	return chat.SendResult{Persisted: true}, nil
}
func (f *fakeSync) Updates() <-chan model.Message { return nil }

type fakeCalls struct {
	started  []call.Kind
	peers    []string
	answered int
	muted    bool
}

func (f *fakeCalls) StartCall(_ context.Context, peer string, kind call.Kind) error {
	f.peers = append(f.peers, peer)
	f.started = append(f.started, kind)
	return nil
}
func (f *fakeCalls) AnswerCall(context.Context) error  { f.answered++; return nil }
func (f *fakeCalls) DeclineCall(context.Context) error { return nil }
func (f *fakeCalls) EndCall(context.Context) error     { return nil }
func (f *fakeCalls) ToggleMute() (bool, error)         { f.muted = !f.muted; return !f.muted, nil }
func (f *fakeCalls) ToggleVideo() (bool, error)        { return false, call.ErrNoActiveCall }
func (f *fakeCalls) Snapshot() call.Snapshot           { return call.Snapshot{} }
func (f *fakeCalls) Events() <-chan call.Event         { return nil }

func newTestConsole(autoAnswer bool) (*console, *fakeSync, *fakeCalls, *bytes.Buffer) {
	s, c := &fakeSync{}, &fakeCalls{}
	out := &bytes.Buffer{}
	return &console{ctx: context.Background(), out: out, sync: s, coord: c, autoAnswer: autoAnswer}, s, c, out
}

func TestConsoleExec(t *testing.T) {
	c, s, calls, out := newTestConsole(false)

	assert.True(t, c.exec("/open peer-1"))
	assert.Equal(t, []string{"peer-1"}, s.opened)
	assert.Contains(t, out.String(), "salut")

	assert.True(t, c.exec("bonjour"))
	assert.Equal(t, []string{"bonjour"}, s.sent)

	assert.True(t, c.exec("/video"))
	assert.Equal(t, []call.Kind{call.KindVideo}, calls.started)
	assert.Equal(t, []string{"peer-1"}, calls.peers)

	assert.True(t, c.exec("/mute"))
	assert.Contains(t, out.String(), "micro coupé")

	out.Reset()
	assert.True(t, c.exec("/camera"))
	assert.Contains(t, out.String(), "erreur")

	out.Reset()
	assert.True(t, c.exec("/nope"))
	assert.Contains(t, out.String(), "commande inconnue")

	assert.False(t, c.exec("/quit"))
}

func TestConsoleAutoAnswer(t *testing.T) {
	c, _, calls, out := newTestConsole(true)
	c.onCallEvent(call.Event{
		Type:  call.EventIncomingCall,
		Offer: &call.IncomingOffer{From: "peer-2", CallerName: "Awa", Kind: call.KindAudio},
	})
	require.Equal(t, 1, calls.answered)
	assert.Contains(t, out.String(), "Awa")

	c, _, calls, _ = newTestConsole(false)
	c.onCallEvent(call.Event{Type: call.EventIncomingCall, Offer: &call.IncomingOffer{From: "peer-2"}})
	assert.Zero(t, calls.answered)
}
