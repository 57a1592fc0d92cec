package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tradehub/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path и время выполнения; ответы 5xx пишутся всегда.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d", r.Method, r.URL.Path, ww.Status())
		}
	})
}
