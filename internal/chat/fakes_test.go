package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/realtime"
)

// fakeStore — хранилище в памяти. Если задан feed, каждая вставка уходит в change feed.
type fakeStore struct {
	mu         sync.Mutex
	messages   []model.Message
	profiles   map[string]model.Profile
	summaries  []model.ConversationSummary
	summaryErr error
	insertErrs []error
	inserted   []model.NewMessage
	feed       *realtime.Listener
	onInsert   func(model.Message)
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]model.Profile)}
}

func (s *fakeStore) add(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.messages = append(s.messages, m)
}

func (s *fakeStore) filter(keep func(model.Message) bool, desc bool, limit int) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *fakeStore) MessagesBetween(_ context.Context, senderID, receiverID string) ([]model.Message, error) {
	return s.filter(func(m model.Message) bool {
		return m.SenderID == senderID && m.ReceiverID == receiverID
	}, false, 0), nil
}

func (s *fakeStore) MessagesBySender(_ context.Context, userID string, limit int) ([]model.Message, error) {
	return s.filter(func(m model.Message) bool { return m.SenderID == userID }, true, limit), nil
}

func (s *fakeStore) MessagesByReceiver(_ context.Context, userID string, limit int) ([]model.Message, error) {
	return s.filter(func(m model.Message) bool { return m.ReceiverID == userID }, true, limit), nil
}

func (s *fakeStore) ConversationSummaries(context.Context, string) ([]model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries, s.summaryErr
}

func (s *fakeStore) Profiles(_ context.Context, ids []string) ([]model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Profile
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, n model.NewMessage) (model.Message, error) {
	s.mu.Lock()
	s.inserted = append(s.inserted, n)
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			s.mu.Unlock()
			return model.Message{}, err
		}
	}
	kind := n.Kind
	if kind == "" {
		kind = model.MessageKindText
	}
	m := model.Message{
		ID:         uuid.NewString(),
		SenderID:   n.SenderID,
		ReceiverID: n.ReceiverID,
		Text:       n.Text,
		Kind:       kind,
		FileURL:    n.FileURL,
		FileName:   n.FileName,
		CreatedAt:  n.CreatedAt,
	}
	s.messages = append(s.messages, m)
	feed, onInsert := s.feed, s.onInsert
	s.mu.Unlock()

	if onInsert != nil {
		onInsert(m)
	}
	if feed != nil {
		row, _ := json.Marshal(m)
		payload := fmt.Sprintf(`{"table":"messages","row":%s}`, row)
		if err := feed.Dispatch(ctx, payload); err != nil {
			return model.Message{}, err
		}
	}
	return m, nil
}

func (s *fakeStore) UpsertProfile(_ context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type upload struct {
	bucket, key, contentType, body string
}

type fakeUploader struct {
	uploads []upload
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, bucket, key, contentType string, body io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	u.uploads = append(u.uploads, upload{bucket: bucket, key: key, contentType: contentType, body: string(data)})
	return "http://files.local/storage/public/" + bucket + "/" + key, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, notif model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notif)
	return n.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
