// Package chat — синхронизация переписки одного пользователя: список контактов, история с
// собеседником, живые обновления из change feed и оптимистичная отправка.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/realtime"
)

const (
	UploadBucket = "chat-uploads"

	fallbackLimit  = 500
	updatesBuffer  = 64
	previewMaxLen  = 50
	previewCutLen  = 47
	tempIDPrefix   = "temp-"
	notifyLink     = "/discussions"
	defaultName    = "Utilisateur"
	unknownName    = "Inconnu"
	newContactName = "Nouveau Contact"
	newContactMsg  = "Nouveau"
	emptyPreview   = "Démarrer une discussion"
)

var (
	ErrNoConversation = errors.New("chat: no conversation selected")
	ErrEmptyMessage   = errors.New("chat: empty message")
	ErrInvalidPartner = errors.New("chat: invalid partner")
	ErrNoUploader     = errors.New("chat: uploads not configured")
)

type Options struct {
	// Self — профиль локального пользователя, нужен для самовосстановления.
	Self       model.Profile
	Store      Store
	Broker     realtime.Broker
	Uploader   Uploader
	Notifier   Notifier
	Strategies []Strategy
	Now        func() time.Time
}

// SendResult — итог отправки. Оптимистичное сообщение остаётся в списке и при Persisted=false.
type SendResult struct {
	Message   model.Message
	Persisted bool
	Remedy    string
}

type Sync struct {
	self       model.Profile
	store      Store
	broker     realtime.Broker
	uploader   Uploader
	notifier   Notifier
	strategies []Strategy
	now        func() time.Time
	updates    chan model.Message

	mu       sync.Mutex
	contacts []model.Contact
	active   string
	messages []model.Message
	// pending — черновики оптимистичных сообщений по временному id.
	pending map[string]model.NewMessage
}

func New(opts Options) *Sync {
	s := &Sync{
		self:       opts.Self,
		store:      opts.Store,
		broker:     opts.Broker,
		uploader:   opts.Uploader,
		notifier:   opts.Notifier,
		strategies: opts.Strategies,
		now:        opts.Now,
		updates:    make(chan model.Message, updatesBuffer),
		pending:    make(map[string]model.NewMessage),
	}
	if s.strategies == nil {
		s.strategies = DefaultStrategies(opts.Self, opts.Store)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Updates — сообщения открытой переписки, пришедшие через realtime.
func (s *Sync) Updates() <-chan model.Message { return s.updates }

func (s *Sync) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Contact(nil), s.contacts...)
}

func (s *Sync) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

func (s *Sync) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LoadContacts загружает список переписок через серверную сводку, при ошибке собирает его
// из отправленных и полученных сообщений.
func (s *Sync) LoadContacts(ctx context.Context) ([]model.Contact, error) {
	summaries, err := s.store.ConversationSummaries(ctx, s.self.ID)
	var contacts []model.Contact
	if err == nil {
		contacts = make([]model.Contact, 0, len(summaries))
		for _, c := range summaries {
			contacts = append(contacts, ContactFromSummary(c))
		}
	} else {
		logger.Errorf("chat: conversation summary user=%s: %v, falling back to messages", s.self.ID, err)
		contacts, err = s.contactsFromMessages(ctx)
		if err != nil {
			return nil, fmt.Errorf("chat.LoadContacts: %w", err)
		}
	}
	s.mu.Lock()
	s.contacts = contacts
	s.mu.Unlock()
	return append([]model.Contact(nil), contacts...), nil
}

// ContactFromSummary — контакт из строки сводки с умолчаниями для пустых полей.
func ContactFromSummary(c model.ConversationSummary) model.Contact {
	contact := model.Contact{
		ID:      c.PartnerID,
		Name:    orDefault(c.Username, defaultName),
		Avatar:  orDefault(c.AvatarURL, model.FallbackAvatar(c.PartnerID)),
		Online:  true,
		LastMsg: orDefault(c.LastMessage, emptyPreview),
	}
	if c.LastMessageTime != nil {
		contact.UpdatedAt = *c.LastMessageTime
	}
	return contact
}

func (s *Sync) contactsFromMessages(ctx context.Context) ([]model.Contact, error) {
	sent, err := s.store.MessagesBySender(ctx, s.self.ID, fallbackLimit)
	if err != nil {
		return nil, err
	}
	received, err := s.store.MessagesByReceiver(ctx, s.self.ID, fallbackLimit)
	if err != nil {
		return nil, err
	}
	all := append(sent, received...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	latest := make(map[string]model.Message)
	var order []string
	for _, m := range all {
		pid := m.Partner(s.self.ID)
		if _, ok := latest[pid]; ok {
			continue
		}
		latest[pid] = m
		order = append(order, pid)
	}
	if len(order) == 0 {
		return []model.Contact{}, nil
	}
	profiles, err := s.store.Profiles(ctx, order)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	contacts := make([]model.Contact, 0, len(order))
	for _, pid := range order {
		p := byID[pid]
		m := latest[pid]
		contacts = append(contacts, model.Contact{
			ID:        pid,
			Name:      orDefault(p.Username, unknownName),
			Avatar:    orDefault(p.AvatarURL, model.FallbackAvatar(pid)),
			Online:    true,
			LastMsg:   m.Preview(),
			UpdatedAt: m.CreatedAt,
		})
	}
	return contacts, nil
}

// Open выбирает собеседника и загружает историю двумя запросами (как отправитель и как
// получатель), слитыми по возрастанию времени. Неизвестный собеседник добавляется в начало списка.
func (s *Sync) Open(ctx context.Context, partnerID, name string) ([]model.Message, error) {
	if partnerID == "" || partnerID == s.self.ID {
		return nil, ErrInvalidPartner
	}
	s.mu.Lock()
	if indexOfContact(s.contacts, partnerID) < 0 {
		placeholder := model.Contact{
			ID:      partnerID,
			Name:    orDefault(name, newContactName),
			Avatar:  model.FallbackAvatar(partnerID),
			Online:  true,
			LastMsg: newContactMsg,
		}
		s.contacts = append([]model.Contact{placeholder}, s.contacts...)
	}
	s.active = partnerID
	s.messages = nil
	s.pending = make(map[string]model.NewMessage)
	s.mu.Unlock()

	history, err := s.history(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("chat.Open: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != partnerID {
		return history, nil
	}
	// realtime мог успеть добавить сообщения, пока шла загрузка
	merged := history
	for _, m := range s.messages {
		if indexOfMessage(merged, m.ID) < 0 {
			merged = append(merged, m)
		}
	}
	s.messages = merged
	return append([]model.Message(nil), merged...), nil
}

func (s *Sync) history(ctx context.Context, partnerID string) ([]model.Message, error) {
	sent, err := s.store.MessagesBetween(ctx, s.self.ID, partnerID)
	if err != nil {
		return nil, err
	}
	received, err := s.store.MessagesBetween(ctx, partnerID, s.self.ID)
	if err != nil {
		return nil, err
	}
	return MergeHistory(sent, received), nil
}

// MergeHistory сливает обе стороны переписки по возрастанию created_at.
func MergeHistory(sent, received []model.Message) []model.Message {
	all := make([]model.Message, 0, len(sent)+len(received))
	all = append(all, sent...)
	all = append(all, received...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// Run слушает вставки сообщений для локального пользователя до отмены ctx.
func (s *Sync) Run(ctx context.Context) error {
	ch := realtime.NewChannel(s.broker, realtime.TableChannel("messages", s.self.ID))
	defer ch.Close()
	off, err := ch.OnEvent(ctx, realtime.EventInsert, s.handleInsert)
	if err != nil {
		return fmt.Errorf("chat.Run: %w", err)
	}
	defer off()
	<-ctx.Done()
	return nil
}

func (s *Sync) handleInsert(payload json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Errorf("chat: malformed message row: %v", err)
		return
	}
	if m.ID == "" {
		return
	}
	if s.Receive(m) {
		select {
		case s.updates <- m:
		default:
			logger.Errorf("chat: updates buffer full, dropped message %s", m.ID)
		}
	}
}

// Receive применяет пришедшее сообщение. Возвращает true, если оно добавлено в открытую переписку.
func (s *Sync) Receive(m model.Message) bool {
	if !m.Involves(s.self.ID) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchContact(m)
	if s.active == "" || !m.Between(s.self.ID, s.active) {
		return false
	}
	if indexOfMessage(s.messages, m.ID) >= 0 {
		return false
	}
	// эхо оптимистичной отправки занимает место временного сообщения
	for i, msg := range s.messages {
		draft, ok := s.pending[msg.ID]
		if !ok || !draft.Matches(m) {
			continue
		}
		delete(s.pending, msg.ID)
		s.messages[i] = m
		return true
	}
	s.messages = append(s.messages, m)
	return true
}

func (s *Sync) touchContact(m model.Message) {
	i := indexOfContact(s.contacts, m.Partner(s.self.ID))
	if i < 0 {
		return
	}
	s.contacts[i].LastMsg = m.Preview()
	s.contacts[i].UpdatedAt = m.CreatedAt
}

// Send отправляет текст в открытую переписку.
func (s *Sync) Send(ctx context.Context, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, ErrEmptyMessage
	}
	return s.send(ctx, model.MessageKindText, text, "", "")
}

// SendFile загружает файл в chat-uploads и отправляет сообщение со ссылкой.
func (s *Sync) SendFile(ctx context.Context, name, contentType string, body io.Reader) (SendResult, error) {
	if s.uploader == nil {
		return SendResult{}, ErrNoUploader
	}
	if s.Active() == "" {
		return SendResult{}, ErrNoConversation
	}
	key := UploadKey(s.self.ID, name, s.now())
	url, err := s.uploader.Upload(ctx, UploadBucket, key, contentType, body)
	if err != nil {
		return SendResult{}, fmt.Errorf("chat.SendFile: upload %s: %w", key, err)
	}
	kind := model.MessageKindFile
	if strings.HasPrefix(contentType, "image/") {
		kind = model.MessageKindImage
	}
	return s.send(ctx, kind, name, url, name)
}

// UploadKey — <uid>/<unix-ms>.<ext>; без точки в имени расширением считается всё имя.
func UploadKey(userID, name string, at time.Time) string {
	ext := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = name[i+1:]
	}
	return path.Join(userID, fmt.Sprintf("%d.%s", at.UnixMilli(), ext))
}

func (s *Sync) send(ctx context.Context, kind model.MessageKind, text, fileURL, fileName string) (SendResult, error) {
	now := s.now().UTC()
	s.mu.Lock()
	partner := s.active
	if partner == "" {
		s.mu.Unlock()
		return SendResult{}, ErrNoConversation
	}
	draft := model.NewMessage{
		SenderID:   s.self.ID,
		ReceiverID: partner,
		Text:       text,
		Kind:       kind,
		FileURL:    fileURL,
		FileName:   fileName,
		CreatedAt:  now,
	}
	tempID := fmt.Sprintf("%s%d", tempIDPrefix, now.UnixMilli())
	for indexOfMessage(s.messages, tempID) >= 0 {
		tempID += "-"
	}
	optimistic := model.Message{
		ID:         tempID,
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Text:       text,
		Kind:       kind,
		FileURL:    fileURL,
		FileName:   fileName,
		CreatedAt:  now,
	}
	s.messages = append(s.messages, optimistic)
	s.pending[tempID] = draft
	s.mu.Unlock()

	saved, remedy, err := s.persist(ctx, draft)

	s.mu.Lock()
	delete(s.pending, tempID)
	if err != nil {
		s.mu.Unlock()
		logger.Errorf("chat: message to %s not persisted, kept locally as %s: %v", partner, tempID, err)
		return SendResult{Message: optimistic, Remedy: remedy}, nil
	}
	s.reconcile(tempID, saved)
	s.mu.Unlock()

	s.notify(ctx, saved)
	return SendResult{Message: saved, Persisted: true, Remedy: remedy}, nil
}

// persist вставляет черновик; при ошибке пробует первую подходящую стратегию один раз.
func (s *Sync) persist(ctx context.Context, draft model.NewMessage) (model.Message, string, error) {
	saved, err := s.store.InsertMessage(ctx, draft)
	if err == nil {
		return saved, "", nil
	}
	for _, strategy := range s.strategies {
		remedy, ok := strategy(draft, err)
		if !ok {
			continue
		}
		logger.Infof("chat: insert failed (%v), applying %s", err, remedy.Name)
		if remedy.Repair != nil {
			if rerr := remedy.Repair(ctx); rerr != nil {
				return model.Message{}, remedy.Name, errors.Join(err, rerr)
			}
		}
		saved, rerr := s.store.InsertMessage(ctx, remedy.Payload)
		if rerr != nil {
			return model.Message{}, remedy.Name, fmt.Errorf("retry after %s: %w", remedy.Name, rerr)
		}
		return saved, remedy.Name, nil
	}
	return model.Message{}, "", err
}

// reconcile заменяет временное сообщение сохранённым, если эхо ещё не пришло.
func (s *Sync) reconcile(tempID string, saved model.Message) {
	ti := indexOfMessage(s.messages, tempID)
	if ti < 0 {
		// переписку сменили или эхо уже заменило временное сообщение
		return
	}
	if indexOfMessage(s.messages, saved.ID) >= 0 {
		s.messages = append(s.messages[:ti], s.messages[ti+1:]...)
		return
	}
	s.messages[ti] = saved
	s.touchContact(saved)
}

func (s *Sync) notify(ctx context.Context, m model.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, MessageNotification(s.self.Username, m)); err != nil {
		logger.Errorf("chat: notify %s about %s: %v", m.ReceiverID, m.ID, err)
	}
}

// MessageNotification — уведомление получателю о новом сообщении.
func MessageNotification(senderName string, m model.Message) model.Notification {
	return model.Notification{
		UserID:  m.ReceiverID,
		Title:   "Nouveau message de " + orDefault(senderName, defaultName),
		Message: NotificationPreview(m.Text),
		Type:    model.NotificationMessage,
		Link:    notifyLink,
	}
}

// NotificationPreview обрезает текст длиннее 50 символов до 47 и добавляет "...".
func NotificationPreview(text string) string {
	r := []rune(text)
	if len(r) <= previewMaxLen {
		return text
	}
	return string(r[:previewCutLen]) + "..."
}

func indexOfContact(contacts []model.Contact, id string) int {
	for i, c := range contacts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func indexOfMessage(messages []model.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
