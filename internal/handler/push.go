package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/model"
)

type PushSubscriber interface {
	Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
}

// PushHandler обрабатывает подписку браузера на пуш-уведомления.
type PushHandler struct {
	client PushSubscriber
}

func NewPushHandler(client PushSubscriber) *PushHandler {
	return &PushHandler{client: client}
}

// SubscribeRequest — тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription model.PushSubscription `json:"subscription"`
}

// Subscribe сохраняет подписку на push-сервисе для текущего пользователя.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.keys required")
		return
	}
	if !validEndpoint(req.Subscription.Endpoint) {
		writeError(w, http.StatusBadRequest, "subscription.endpoint must be an https url")
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest — тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validEndpoint(req.Endpoint) {
		writeError(w, http.StatusBadRequest, "endpoint must be an https url")
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validEndpoint: push-сервисы браузеров принимают только https.
func validEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}
