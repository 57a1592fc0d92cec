package handler

import (
	"net/http"

	"github.com/tradehub/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации (без авторизации).
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Push.ServiceURL == "" || h.cfg.Push.VAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.cfg.Push.VAPIDPublicKey,
	})
}

// GetCallConfig возвращает ICE-серверы для RTCPeerConnection: STUN по умолчанию и TURN из конфигурации.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.cfg.CallICEServers,
	})
}
