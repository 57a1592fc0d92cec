package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/realtime"
	"github.com/tradehub/internal/repository"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func alice() model.Profile {
	return model.Profile{ID: "a", Username: "Alice", Email: "alice@example.com", Role: "buyer"}
}

func bob() model.Profile {
	return model.Profile{ID: "b", Username: "Bob", Email: "bob@example.com", Role: "supplier"}
}

func newSync(store *fakeStore, self model.Profile, broker realtime.Broker) *Sync {
	return New(Options{Self: self, Store: store, Broker: broker})
}

// run запускает Run и ждёт подписки на change feed.
func run(t *testing.T, s *Sync, broker *realtime.MemoryBroker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	channel := realtime.TableChannel("messages", s.self.ID)
	require.Eventually(t, func() bool { return broker.Subscribers(channel) == 1 }, time.Second, 5*time.Millisecond)
}

func TestMergeHistory_EqualsSingleFilteredQuery(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"a", "b", "c"}
	store := newFakeStore()
	var all []model.Message
	for i, offset := range rng.Perm(200) {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		if from == to {
			continue
		}
		m := model.Message{
			ID:         fmt.Sprintf("m%d", i),
			SenderID:   from,
			ReceiverID: to,
			Text:       fmt.Sprintf("msg %d", i),
			CreatedAt:  base.Add(time.Duration(offset) * time.Second),
		}
		store.add(m)
		all = append(all, m)
	}

	var single []model.Message
	for _, m := range all {
		if m.Between("a", "b") {
			single = append(single, m)
		}
	}
	sort.Slice(single, func(i, j int) bool { return single[i].CreatedAt.Before(single[j].CreatedAt) })
	require.NotEmpty(t, single)

	s := newSync(store, alice(), realtime.NewMemoryBroker())
	got, err := s.Open(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Equal(t, single, got)
	assert.Equal(t, single, s.Messages())
}

func TestMergeHistory_Ascending(t *testing.T) {
	sent := []model.Message{{ID: "1", CreatedAt: base}, {ID: "3", CreatedAt: base.Add(2 * time.Minute)}}
	received := []model.Message{{ID: "2", CreatedAt: base.Add(time.Minute)}}

	merged := MergeHistory(sent, received)
	ids := make([]string, 0, len(merged))
	for _, m := range merged {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Empty(t, MergeHistory(nil, nil))
}

func TestSync_EchoOfOptimisticMessageIsDeduplicated(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()
	store := newFakeStore()
	store.feed = realtime.NewListener(nil, broker)
	s := newSync(store, alice(), broker)
	run(t, s, broker)
	ctx := context.Background()

	_, err := s.Open(ctx, "b", "Bob")
	require.NoError(t, err)
	res, err := s.Send(ctx, "Bonjour")
	require.NoError(t, err)
	require.True(t, res.Persisted)

	// эхо из change feed приходит асинхронно
	select {
	case <-s.Updates():
	case <-time.After(100 * time.Millisecond):
	}
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Message.ID, msgs[0].ID)
	assert.False(t, strings.HasPrefix(msgs[0].ID, tempIDPrefix))

	assert.False(t, s.Receive(res.Message))
	assert.Len(t, s.Messages(), 1)
}

func TestSync_EchoBeforeInsertReturns(t *testing.T) {
	store := newFakeStore()
	s := newSync(store, alice(), realtime.NewMemoryBroker())
	store.onInsert = func(m model.Message) {
		// эхо обгоняет ответ вставки и заменяет временное сообщение
		assert.True(t, s.Receive(m))
	}
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.Send(ctx, "Prix ?")
	require.NoError(t, err)
	require.True(t, res.Persisted)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Message.ID, msgs[0].ID)
}

func TestSync_ReceiverSeesMessageAndPreview(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	defer broker.Close()
	store := newFakeStore()
	store.feed = realtime.NewListener(nil, broker)
	ctx := context.Background()

	sender := newSync(store, alice(), broker)
	receiver := newSync(store, bob(), broker)
	run(t, receiver, broker)
	_, err := receiver.Open(ctx, "a", "Alice")
	require.NoError(t, err)
	_, err = sender.Open(ctx, "b", "Bob")
	require.NoError(t, err)

	const text = "Est-ce encore disponible ?"
	res, err := sender.Send(ctx, text)
	require.NoError(t, err)

	select {
	case m := <-receiver.Updates():
		assert.Equal(t, res.Message.ID, m.ID)
		assert.Equal(t, text, m.Text)
	case <-time.After(time.Second):
		t.Fatal("message not delivered to receiver")
	}
	msgs := receiver.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, text, msgs[0].Text)

	contacts := receiver.Contacts()
	i := indexOfContact(contacts, "a")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, text, contacts[i].LastMsg)
	assert.Equal(t, res.Message.CreatedAt, contacts[i].UpdatedAt)
}

func TestSync_ReceiveFiltersOtherConversations(t *testing.T) {
	store := newFakeStore()
	store.summaries = []model.ConversationSummary{{PartnerID: "c", Username: "Carol"}}
	s := newSync(store, alice(), realtime.NewMemoryBroker())
	ctx := context.Background()
	_, err := s.LoadContacts(ctx)
	require.NoError(t, err)
	_, err = s.Open(ctx, "b", "")
	require.NoError(t, err)

	fromCarol := model.Message{ID: "x1", SenderID: "c", ReceiverID: "a", Text: "Salut", CreatedAt: base}
	assert.False(t, s.Receive(fromCarol))
	assert.Empty(t, s.Messages())
	contacts := s.Contacts()
	assert.Equal(t, "Salut", contacts[indexOfContact(contacts, "c")].LastMsg)

	// пара b -> c не касается a вообще
	assert.False(t, s.Receive(model.Message{ID: "x2", SenderID: "b", ReceiverID: "c", Text: "?"}))
	assert.True(t, s.Receive(model.Message{ID: "x3", SenderID: "b", ReceiverID: "a", Text: "Oui"}))
	assert.Len(t, s.Messages(), 1)
}

func TestSync_HealsMissingProfile(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{fmt.Errorf("msg.Insert: %w", repository.ErrForeignKey)}
	notifier := &fakeNotifier{}
	s := New(Options{Self: alice(), Store: store, Broker: realtime.NewMemoryBroker(), Notifier: notifier})
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.Send(ctx, "Bonjour")
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, RemedyHealProfile, res.Remedy)
	assert.Equal(t, 2, store.insertCount())

	healed, ok := store.profiles["a"]
	require.True(t, ok)
	assert.Equal(t, "Alice", healed.Username)
	assert.Equal(t, model.DefaultCountry, healed.Country)
	assert.Equal(t, model.DefaultCity, healed.City)
	assert.False(t, healed.UpdatedAt.IsZero())
	assert.Len(t, notifier.sent, 1)
}

func TestSync_DegradesToMinimalPayload(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{fmt.Errorf("msg.Insert: %w", repository.ErrUnknownColumn)}
	uploader := &fakeUploader{}
	s := New(Options{Self: alice(), Store: store, Broker: realtime.NewMemoryBroker(), Uploader: uploader, Now: fixedClock(base)})
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.SendFile(ctx, "devis.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, RemedyMinimalPayload, res.Remedy)

	require.Len(t, store.inserted, 2)
	assert.Equal(t, model.MessageKindFile, store.inserted[0].Kind)
	assert.NotEmpty(t, store.inserted[0].FileURL)
	assert.True(t, store.inserted[1].IsMinimal())
	assert.Equal(t, "devis.pdf", store.inserted[1].Text)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Message.ID, msgs[0].ID)
}

func TestSync_SecondFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	fk := fmt.Errorf("msg.Insert: %w", repository.ErrForeignKey)
	store.insertErrs = []error{fk, fk}
	notifier := &fakeNotifier{}
	s := New(Options{Self: alice(), Store: store, Broker: realtime.NewMemoryBroker(), Notifier: notifier})
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.Send(ctx, "Toujours là ?")
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Equal(t, RemedyHealProfile, res.Remedy)
	assert.Equal(t, 2, store.insertCount())
	assert.Empty(t, notifier.sent)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].ID, tempIDPrefix))
	assert.Equal(t, "Toujours là ?", msgs[0].Text)
}

func TestSync_UnknownErrorIsNotRetried(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{errors.New("connection reset")}
	s := newSync(store, alice(), realtime.NewMemoryBroker())
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.Send(ctx, "Allô")
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Empty(t, res.Remedy)
	assert.Equal(t, 1, store.insertCount())
}

func TestStrategies(t *testing.T) {
	draft := model.NewMessage{SenderID: "a", ReceiverID: "b", Text: "x", Kind: model.MessageKindImage, FileURL: "u"}

	_, ok := MinimalPayload(draft, errors.New("other"))
	assert.False(t, ok)
	remedy, ok := MinimalPayload(draft, fmt.Errorf("w: %w", repository.ErrUnknownColumn))
	require.True(t, ok)
	assert.Nil(t, remedy.Repair)
	assert.True(t, remedy.Payload.IsMinimal())
	_, ok = MinimalPayload(draft.Minimal(), repository.ErrUnknownColumn)
	assert.False(t, ok, "minimal payload has nothing left to drop")

	heal := HealMissingProfile(alice(), newFakeStore())
	_, ok = heal(draft, repository.ErrUnknownColumn)
	assert.False(t, ok)
	remedy, ok = heal(draft, repository.ErrForeignKey)
	require.True(t, ok)
	assert.Equal(t, draft, remedy.Payload)
	assert.NotNil(t, remedy.Repair)
}

func TestSync_Notification(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := New(Options{Self: alice(), Store: store, Broker: realtime.NewMemoryBroker(), Notifier: notifier})
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	long := strings.Repeat("a", 60)
	_, err = s.Send(ctx, long)
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, "b", n.UserID)
	assert.Equal(t, "Nouveau message de Alice", n.Title)
	assert.Equal(t, strings.Repeat("a", 47)+"...", n.Message)
	assert.Equal(t, model.NotificationMessage, n.Type)
	assert.Equal(t, "/discussions", n.Link)

	// ошибка уведомления не влияет на отправку
	notifier.err = errors.New("push down")
	res, err := s.Send(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, res.Persisted)
}

func TestNotificationPreview(t *testing.T) {
	fifty := strings.Repeat("é", 50)
	assert.Equal(t, fifty, NotificationPreview(fifty))
	assert.Equal(t, strings.Repeat("é", 47)+"...", NotificationPreview(fifty+"é"))
	assert.Equal(t, "", NotificationPreview(""))
}

func TestSync_SendValidation(t *testing.T) {
	s := newSync(newFakeStore(), alice(), realtime.NewMemoryBroker())
	ctx := context.Background()

	_, err := s.Send(ctx, "Bonjour")
	assert.ErrorIs(t, err, ErrNoConversation)
	_, err = s.Open(ctx, "b", "")
	require.NoError(t, err)
	_, err = s.Send(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = s.SendFile(ctx, "a.png", "image/png", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoUploader)
	_, err = s.Open(ctx, "a", "")
	assert.ErrorIs(t, err, ErrInvalidPartner)
}

func TestSync_SendFile(t *testing.T) {
	store := newFakeStore()
	uploader := &fakeUploader{}
	s := New(Options{Self: alice(), Store: store, Broker: realtime.NewMemoryBroker(), Uploader: uploader, Now: fixedClock(base)})
	ctx := context.Background()
	_, err := s.Open(ctx, "b", "")
	require.NoError(t, err)

	res, err := s.SendFile(ctx, "photo.jpeg", "image/jpeg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.Len(t, uploader.uploads, 1)
	up := uploader.uploads[0]
	assert.Equal(t, UploadBucket, up.bucket)
	assert.Equal(t, fmt.Sprintf("a/%d.jpeg", base.UnixMilli()), up.key)
	assert.Equal(t, "jpeg", up.body)

	assert.Equal(t, model.MessageKindImage, res.Message.Kind)
	assert.Equal(t, "photo.jpeg", res.Message.FileName)
	assert.Equal(t, "photo.jpeg", res.Message.Text)
	assert.Equal(t, "http://files.local/storage/public/chat-uploads/"+up.key, res.Message.FileURL)
	assert.Equal(t, "Image", model.Message{Kind: model.MessageKindImage}.Preview())

	uploader.err = errors.New("quota")
	_, err = s.SendFile(ctx, "b.txt", "text/plain", strings.NewReader("x"))
	assert.Error(t, err)
	assert.Len(t, s.Messages(), 1)
}

func TestUploadKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "u1/1700000000123.png", UploadKey("u1", "capture.PNG.png", at))
	assert.Equal(t, "u1/1700000000123.README", UploadKey("u1", "README", at))
}

func TestSync_LoadContactsFromSummary(t *testing.T) {
	store := newFakeStore()
	last := base.Add(time.Hour)
	store.summaries = []model.ConversationSummary{
		{PartnerID: "b", Username: "Bob", AvatarURL: "http://a/b.png", LastMessage: "Merci", LastMessageTime: &last},
		{PartnerID: "c"},
	}
	s := newSync(store, alice(), realtime.NewMemoryBroker())

	contacts, err := s.LoadContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, model.Contact{ID: "b", Name: "Bob", Avatar: "http://a/b.png", Online: true, LastMsg: "Merci", UpdatedAt: last}, contacts[0])
	assert.Equal(t, "Utilisateur", contacts[1].Name)
	assert.Equal(t, model.FallbackAvatar("c"), contacts[1].Avatar)
	assert.Equal(t, "Démarrer une discussion", contacts[1].LastMsg)
	assert.True(t, contacts[1].Online)
}

func TestSync_LoadContactsFallback(t *testing.T) {
	store := newFakeStore()
	store.summaryErr = errors.New("function get_user_conversations does not exist")
	store.profiles["b"] = model.Profile{ID: "b", Username: "Bob"}
	store.add(model.Message{SenderID: "a", ReceiverID: "b", Text: "Bonjour", CreatedAt: base})
	store.add(model.Message{SenderID: "c", ReceiverID: "a", Kind: model.MessageKindFile, CreatedAt: base.Add(time.Minute)})
	store.add(model.Message{SenderID: "b", ReceiverID: "a", Kind: model.MessageKindImage, CreatedAt: base.Add(2 * time.Minute)})
	s := newSync(store, alice(), realtime.NewMemoryBroker())

	contacts, err := s.LoadContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "b", contacts[0].ID)
	assert.Equal(t, "Bob", contacts[0].Name)
	assert.Equal(t, "Image", contacts[0].LastMsg)
	assert.Equal(t, base.Add(2*time.Minute), contacts[0].UpdatedAt)
	assert.Equal(t, "c", contacts[1].ID)
	assert.Equal(t, "Inconnu", contacts[1].Name)
	assert.Equal(t, "Fichier", contacts[1].LastMsg)
	assert.Equal(t, model.FallbackAvatar("c"), contacts[1].Avatar)
}

func TestSync_OpenAddsPlaceholderContact(t *testing.T) {
	store := newFakeStore()
	store.summaries = []model.ConversationSummary{{PartnerID: "c", Username: "Carol"}}
	s := newSync(store, alice(), realtime.NewMemoryBroker())
	ctx := context.Background()
	_, err := s.LoadContacts(ctx)
	require.NoError(t, err)

	_, err = s.Open(ctx, "sup-1", "")
	require.NoError(t, err)
	contacts := s.Contacts()
	require.Len(t, contacts, 2)
	assert.Equal(t, "sup-1", contacts[0].ID)
	assert.Equal(t, "Nouveau Contact", contacts[0].Name)
	assert.Equal(t, "Nouveau", contacts[0].LastMsg)
	assert.Equal(t, "sup-1", s.Active())

	_, err = s.Open(ctx, "c", "ignored")
	require.NoError(t, err)
	assert.Len(t, s.Contacts(), 2)

	_, err = s.Open(ctx, "sup-2", "Kin Textiles")
	require.NoError(t, err)
	assert.Equal(t, "Kin Textiles", s.Contacts()[0].Name)
}
