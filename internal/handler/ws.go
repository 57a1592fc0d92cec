package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tradehub/internal/gateway"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/middleware"
)

// MaxTabsPerUser — сколько одновременных соединений шлюза допускается на одного пользователя.
const MaxTabsPerUser = 8

type WSHandler struct {
	hub      *gateway.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins в формате CORS_ALLOWED_ORIGINS (через запятую или "*").
func NewWSHandler(hub *gateway.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			h.anyOrig = true
		}
		if o != "" {
			h.origins[o] = struct{}{}
		}
	}
	if len(h.origins) == 0 {
		h.anyOrig = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin: запросы без Origin (softphone, curl) пропускаются, их личность уже проверил прокси.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.anyOrig {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if h.hub.Connections(userID) >= MaxTabsPerUser {
		writeError(w, http.StatusTooManyRequests, "too many realtime connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("gateway upgrade user=%s: %v", userID, err)
		return
	}

	// Соединение живёт дольше запроса, поэтому контекст не от r.
	ctx, cancel := context.WithCancel(context.Background())
	client := gateway.NewClient(h.hub, conn, userID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
