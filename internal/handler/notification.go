package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/notification"
)

type NotificationStore interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

type NotificationCreator interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
}

type NotificationHandler struct {
	store   NotificationStore
	creator NotificationCreator
}

func NewNotificationHandler(store NotificationStore, creator NotificationCreator) *NotificationHandler {
	return &NotificationHandler{store: store, creator: creator}
}

// List — последние уведомления текущего пользователя, ?limit= до 100.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	list, err := h.store.ListForUser(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		writeRepoError(w, "notifications.list", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create — уведомление другому пользователю (например, поставщику о заказе).
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var n model.Notification
	if !decodeBody(w, r, &n) {
		return
	}
	if !validID(n.UserID) {
		writeError(w, http.StatusBadRequest, "user_id invalid")
		return
	}
	created, err := h.creator.Create(r.Context(), n)
	switch {
	case errors.Is(err, notification.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeRepoError(w, "notifications.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.MarkRead(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeRepoError(w, "notifications.markRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
