package objectstore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/tradehub/internal/logger"
)

const defaultSignedTTL = time.Hour

// UploadResponse — ответ после успешной загрузки.
type UploadResponse struct {
	URL         string `json:"url"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

type SignRequest struct {
	ExpiresIn int `json:"expires_in"`
}

type SignResponse struct {
	SignedURL string `json:"signed_url"`
}

// Handler — HTTP-поверхность хранилища.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes монтируются под /storage. Выдачу подписанных ссылок закрывает internal.
func (h *Handler) Routes(r chi.Router, internal func(http.Handler) http.Handler) {
	r.Post("/{bucket}/*", h.Upload)
	r.Get("/public/{bucket}/*", h.ServePublic)
	r.Get("/sign/{bucket}/*", h.ServeSigned)
	r.With(internal).Post("/sign/{bucket}/*", h.Sign)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("objectstore writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrExpired), errors.Is(err, ErrPrivateBucket):
		return http.StatusForbidden
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadBucket), errors.Is(err, ErrBadKey), errors.Is(err, ErrBlockedType), errors.Is(err, ErrTypeMismatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func objectRef(r *http.Request) (string, string) {
	return chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
}

// Upload принимает multipart/form-data с полем "file"; ключ берётся из пути.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectRef(r)
	if limit := h.store.MaxSize(); limit > 0 {
		// запас на заголовки multipart
		r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	obj, err := h.store.Put(r.Context(), bucket, key, file, header.Header.Get("Content-Type"))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("objectstore upload %s/%s: %v", bucket, key, err)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{
		URL:         h.store.URL(obj.Bucket, obj.Key, defaultSignedTTL),
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		FileSize:    obj.Size,
		ContentType: obj.ContentType,
	})
}

func (h *Handler) ServePublic(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectRef(r)
	if !h.store.IsPublic(bucket) {
		writeError(w, http.StatusForbidden, ErrPrivateBucket.Error())
		return
	}
	h.serve(w, r, bucket, key)
}

func (h *Handler) ServeSigned(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectRef(r)
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		writeError(w, http.StatusForbidden, ErrBadSignature.Error())
		return
	}
	if err := h.store.Verify(bucket, key, expires, r.URL.Query().Get("sig")); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	h.serve(w, r, bucket, key)
}

// Sign выдаёт подписанную ссылку. Доступен только внутри сети (за прокси).
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectRef(r)
	var req SignRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	ttl := defaultSignedTTL
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}
	if _, err := h.store.objectPath(bucket, key); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SignResponse{SignedURL: h.store.SignedURL(bucket, key, ttl)})
}

// serve отдаёт объект; query name= — оригинальное имя для Content-Disposition.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, bucket, key string) {
	rc, err := h.store.Open(bucket, key)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	defer rc.Close()

	if ct := contentTypeByExt(pathExt(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if origName := r.URL.Query().Get("name"); origName != "" {
		if safe := safeFilename(origName); safe != "" {
			disp := "attachment; filename*=UTF-8''" + url.PathEscape(safe)
			if ascii := asciiFallbackFilename(safe); ascii == safe {
				disp = "attachment; filename=\"" + ascii + "\"; " + disp
			}
			w.Header().Set("Content-Disposition", disp)
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Errorf("objectstore serve %s/%s: %v", bucket, key, err)
	}
}

func pathExt(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 && !strings.Contains(key[i:], "/") {
		return key[i:]
	}
	return ""
}

// safeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// asciiFallbackFilename — имя только из ASCII для legacy filename=.
func asciiFallbackFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
