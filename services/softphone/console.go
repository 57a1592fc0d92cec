package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tradehub/internal/call"
	"github.com/tradehub/internal/chat"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

type command struct {
	name string
	arg  string
}

// parseCommand разбирает "/name arg". Строка без слэша считается текстом сообщения.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "send", arg: line}, true
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

// chatSync и callControl — то, чем пользуется консоль; в тестах подменяются.
type chatSync interface {
	Contacts() []model.Contact
	Active() string
	Open(ctx context.Context, partnerID, name string) ([]model.Message, error)
	Send(ctx context.Context, text string) (chat.SendResult, error)
	SendFile(ctx context.Context, name, contentType string, body io.Reader) (chat.SendResult, error)
	Updates() <-chan model.Message
}

type callControl interface {
	StartCall(ctx context.Context, peerID string, kind call.Kind) error
	AnswerCall(ctx context.Context) error
	DeclineCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	Snapshot() call.Snapshot
	Events() <-chan call.Event
}

type console struct {
	ctx        context.Context
	sync       chatSync
	coord      callControl
	autoAnswer bool

	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// exec выполняет строку ввода. false — выход.
func (c *console) exec(line string) bool {
	cmd, ok := parseCommand(line)
	if !ok {
		return true
	}
	var err error
	switch cmd.name {
	case "quit", "exit":
		return false
	case "help":
		c.printf("/contacts /open <id> /file <path> /audio /video /answer /decline /end /mute /camera /status /quit")
	case "contacts":
		c.printContacts()
	case "open":
		err = c.open(cmd.arg)
	case "send":
		err = c.send(cmd.arg)
	case "file":
		err = c.sendFile(cmd.arg)
	case "audio", "call":
		err = c.coord.StartCall(c.ctx, c.sync.Active(), call.KindAudio)
	case "video":
		err = c.coord.StartCall(c.ctx, c.sync.Active(), call.KindVideo)
	case "answer":
		err = c.coord.AnswerCall(c.ctx)
	case "decline":
		err = c.coord.DeclineCall(c.ctx)
	case "end", "hangup":
		err = c.coord.EndCall(c.ctx)
	case "mute":
		var enabled bool
		if enabled, err = c.coord.ToggleMute(); err == nil {
			c.printf("micro %s", onOff(enabled))
		}
	case "camera":
		var enabled bool
		if enabled, err = c.coord.ToggleVideo(); err == nil {
			c.printf("caméra %s", onOff(enabled))
		}
	case "status":
		s := c.coord.Snapshot()
		c.printf("appel: %s peer=%s type=%s muet=%v vidéo coupée=%v", s.State, s.PeerID, s.Kind, s.Muted, s.VideoOff)
	default:
		c.printf("commande inconnue: /%s (voir /help)", cmd.name)
	}
	if err != nil {
		c.printf("erreur: %v", err)
	}
	return true
}

func (c *console) open(partnerID string) error {
	history, err := c.sync.Open(c.ctx, partnerID, "")
	if err != nil {
		return err
	}
	c.printf("--- discussion avec %s (%d messages) ---", partnerID, len(history))
	for _, m := range history {
		c.printMessage(m)
	}
	return nil
}

func (c *console) send(text string) error {
	res, err := c.sync.Send(c.ctx, text)
	if err != nil {
		return err
	}
	c.reportSend(res)
	return nil
}

func (c *console) sendFile(path string) error {
	if path == "" {
		return errors.New("usage: /file <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	name := filepath.Base(path)
	res, err := c.sync.SendFile(c.ctx, name, mime.TypeByExtension(filepath.Ext(name)), f)
	if err != nil {
		return err
	}
	c.reportSend(res)
	return nil
}

func (c *console) reportSend(res chat.SendResult) {
	switch {
	case !res.Persisted:
		c.printf("message non enregistré (affiché localement)")
	case res.Remedy != "":
		c.printf("message enregistré après %s", res.Remedy)
	}
}

func (c *console) printContacts() {
	for _, ct := range c.sync.Contacts() {
		c.printf("%s  %-20s %s", ct.ID, ct.Name, ct.LastMsg)
	}
}

func (c *console) printMessage(m model.Message) {
	c.printf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Preview())
}

func (c *console) watchMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.sync.Updates():
			c.printMessage(m)
		}
	}
}

func (c *console) watchCalls() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.coord.Events():
			c.onCallEvent(ev)
		}
	}
}

func (c *console) onCallEvent(ev call.Event) {
	switch ev.Type {
	case call.EventStateChanged:
		c.printf("appel: %s -> %s", ev.From, ev.To)
	case call.EventIncomingCall:
		c.printf("appel %s entrant de %s (%s), /answer ou /decline", ev.Offer.Kind, ev.Offer.CallerName, ev.Offer.From)
		if c.autoAnswer {
			if err := c.coord.AnswerCall(c.ctx); err != nil {
				logger.Errorf("auto-answer: %v", err)
			}
		}
	case call.EventRemoteStream:
		c.printf("flux distant reçu: %v", ev.Remote.Kinds)
	case call.EventBusyRejected:
		c.printf("appel de %s refusé: occupé", ev.PeerID)
	case call.EventCallEnded:
		who := "vous"
		if ev.RemoteEnded {
			who = ev.PeerID
		}
		c.printf("appel terminé par %s (%s)", who, ev.Reason)
	case call.EventCallFailed:
		c.printf("échec de l'appel: %v", ev.Err)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "activé"
	}
	return "coupé"
}
