package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/tradehub/internal/logger"
)

// responseWriter запоминает, был ли уже отправлен заголовок ответа.
// Реализует http.Hijacker для websocket upgrade шлюза.
type responseWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

// Hijack делегирует к нижележащему ResponseWriter, если он реализует http.Hijacker (нужно для WebSocket).
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// RecoverJSON перехватывает панику обработчика: стек и пользователь в лог, клиенту JSON 500,
// если ответ ещё не начат. user пуст для маршрутов без TrustedUser.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &responseWriter{ResponseWriter: w}
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.Errorf("panic %s %s user=%s: %v\n%s", r.Method, r.URL.Path, GetUserID(r.Context()), err, debug.Stack())
				if !wrap.wrote {
					wrap.ResponseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
					wrap.ResponseWriter.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(wrap.ResponseWriter).Encode(map[string]string{"error": "internal server error"})
				}
			}
		}()
		next.ServeHTTP(wrap, r)
	})
}
