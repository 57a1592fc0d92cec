package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tradehub/internal/chat"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/model"
)

type MessageStore interface {
	Between(ctx context.Context, senderID, receiverID string) ([]model.Message, error)
	Insert(ctx context.Context, n model.NewMessage) (model.Message, error)
	MarkRead(ctx context.Context, receiverID, partnerID string) (int64, error)
}

// SenderLookup нужен только для имени отправителя в уведомлении.
type SenderLookup interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
}

type MessageHandler struct {
	messages MessageStore
	profiles SenderLookup
	notifier chat.Notifier
	now      func() time.Time
}

// NewMessageHandler: notifier может быть nil — тогда уведомления о сообщениях не создаются.
func NewMessageHandler(messages MessageStore, profiles SenderLookup, notifier chat.Notifier) *MessageHandler {
	return &MessageHandler{messages: messages, profiles: profiles, notifier: notifier, now: time.Now}
}

// GetMessages — история с собеседником ?partner=<id>, двумя запросами по направлениям.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	partnerID := r.URL.Query().Get("partner")
	if !validID(partnerID) {
		writeError(w, http.StatusBadRequest, "partner required")
		return
	}
	sent, err := h.messages.Between(r.Context(), userID, partnerID)
	if err != nil {
		writeRepoError(w, "messages.sent", err)
		return
	}
	received, err := h.messages.Between(r.Context(), partnerID, userID)
	if err != nil {
		writeRepoError(w, "messages.received", err)
		return
	}
	writeJSON(w, http.StatusOK, chat.MergeHistory(sent, received))
}

type SendMessageRequest struct {
	ReceiverID string            `json:"receiver_id"`
	Text       string            `json:"text"`
	Kind       model.MessageKind `json:"type"`
	FileURL    string            `json:"file_url"`
	FileName   string            `json:"file_name"`
}

// SendMessage сохраняет сообщение от текущего пользователя. При неизвестной колонке
// повторяет вставку с базовыми полями.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if !validID(req.ReceiverID) || req.ReceiverID == userID {
		writeError(w, http.StatusBadRequest, "receiver_id invalid")
		return
	}
	if req.Text == "" && req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "text or file_url required")
		return
	}
	switch req.Kind {
	case "", model.MessageKindText, model.MessageKindImage, model.MessageKindFile, model.MessageKindCallLog:
	default:
		writeError(w, http.StatusBadRequest, "unknown message type")
		return
	}

	draft := model.NewMessage{
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Kind:       req.Kind,
		FileURL:    req.FileURL,
		FileName:   req.FileName,
		CreatedAt:  h.now().UTC(),
	}
	saved, err := h.messages.Insert(r.Context(), draft)
	if remedy, ok := chat.MinimalPayload(draft, err); err != nil && ok {
		logger.Errorf("messages.insert user=%s: %v, retrying with %s", userID, err, remedy.Name)
		saved, err = h.messages.Insert(r.Context(), remedy.Payload)
	}
	if err != nil {
		writeRepoError(w, "messages.insert", err)
		return
	}
	h.notify(r.Context(), saved)
	writeJSON(w, http.StatusCreated, saved)
}

func (h *MessageHandler) notify(ctx context.Context, m model.Message) {
	if h.notifier == nil {
		return
	}
	var name string
	if p, err := h.profiles.GetByID(ctx, m.SenderID); err == nil {
		name = p.Username
	}
	err := h.notifier.Notify(ctx, chat.MessageNotification(name, m))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("messages.notify receiver=%s: %v", m.ReceiverID, err)
	}
}

// MarkRead помечает прочитанными входящие от ?partner=<id>.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	partnerID := r.URL.Query().Get("partner")
	if !validID(partnerID) {
		writeError(w, http.StatusBadRequest, "partner required")
		return
	}
	n, err := h.messages.MarkRead(r.Context(), userID, partnerID)
	if err != nil {
		writeRepoError(w, "messages.markRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
