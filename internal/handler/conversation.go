package handler

import (
	"context"
	"net/http"

	"github.com/tradehub/internal/chat"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/model"
)

type ConversationStore interface {
	Summaries(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

type ConversationHandler struct {
	conversations ConversationStore
}

func NewConversationHandler(conversations ConversationStore) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// List — список переписок текущего пользователя в виде контактов.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	summaries, err := h.conversations.Summaries(r.Context(), userID)
	if err != nil {
		writeRepoError(w, "conversations.list", err)
		return
	}
	contacts := make([]model.Contact, 0, len(summaries))
	for _, s := range summaries {
		contacts = append(contacts, chat.ContactFromSummary(s))
	}
	writeJSON(w, http.StatusOK, contacts)
}
