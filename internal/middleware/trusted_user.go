package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// UserHeader — заголовок, который выставляет фронт-прокси после проверки сессии.
const UserHeader = "X-User-Id"

// TrustedUser кладёт в контекст id пользователя из X-User-Id (для websocket допускается query user_id,
// браузер не умеет ставить заголовки при upgrade). Без валидного UUID — 401.
// Сервисы за прокси не проверяют сессии сами: снаружи они доступны только через него.
func TrustedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserHeader))
		if raw == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			raw = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := WithUserID(r.Context(), id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
