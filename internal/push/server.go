package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/storage"
)

const notifyTimeout = 10 * time.Second

// Server — HTTP-поверхность сервиса push: подписки и доставка по запросу API.
type Server struct {
	store      storage.SubscriptionStore
	dispatcher *Dispatcher
	publicKey  string
}

func NewServer(store storage.SubscriptionStore, dispatcher *Dispatcher, publicKey string) *Server {
	return &Server{store: store, dispatcher: dispatcher, publicKey: publicKey}
}

// Routes монтируется под /api. notify — служебный, его закрывает вызывающий (InternalOnly).
func (s *Server) Routes(r chi.Router, notify func(http.Handler) http.Handler) {
	r.Get("/vapid-public", s.handleVAPIDPublic)
	r.Post("/subscribe", s.handleSubscribe)
	r.Delete("/subscribe", s.handleUnsubscribe)
	r.With(notify).Post("/notify", s.handleNotify)
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(s.publicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	sub := req.Subscription
	if req.UserID == "" || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.store.AddSubscription(r.Context(), req.UserID, sub); err != nil {
		logger.Errorf("push subscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Subscription.Endpoint == "" {
		http.Error(w, "user_id and subscription.endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.store.RemoveSubscription(r.Context(), req.UserID, req.Subscription.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Payload.Title == "" {
		http.Error(w, "user_id and payload.title required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()
	delivered, err := s.dispatcher.Deliver(ctx, req.UserID, req.Payload)
	if err != nil {
		logger.Errorf("push notify user=%s: %v", req.UserID, err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}
