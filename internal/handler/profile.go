package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tradehub/internal/middleware"
	"github.com/tradehub/internal/model"
)

const maxProfileIDs = 100

type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	Upsert(ctx context.Context, p model.Profile) error
	ListByIDs(ctx context.Context, ids []string) ([]model.Profile, error)
}

type ProfileHandler struct {
	profiles ProfileStore
}

func NewProfileHandler(profiles ProfileStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, middleware.GetUserID(r.Context()))
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(id) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	h.get(w, r, id)
}

func (h *ProfileHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.profiles.GetByID(r.Context(), id)
	if err != nil {
		writeRepoError(w, "profiles.get", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List — профили по ?ids=a,b,c (не больше maxProfileIDs).
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !validID(id) {
			writeError(w, http.StatusBadRequest, "invalid id: "+id)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 || len(ids) > maxProfileIDs {
		writeError(w, http.StatusBadRequest, "ids required (max 100)")
		return
	}
	profiles, err := h.profiles.ListByIDs(r.Context(), ids)
	if err != nil {
		writeRepoError(w, "profiles.list", err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

type UpdateProfileRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Address   string `json:"address"`
	AvatarURL string `json:"avatar_url"`
}

// UpdateMe создаёт или обновляет профиль текущего пользователя. Статус поставщика
// через этот эндпоинт не меняется.
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UpdateProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Role {
	case "", "buyer", "supplier":
	default:
		writeError(w, http.StatusBadRequest, "role must be buyer or supplier")
		return
	}
	p := model.MinimalProfile(model.Profile{
		ID:        userID,
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		Role:      req.Role,
		Country:   strings.TrimSpace(req.Country),
		City:      strings.TrimSpace(req.City),
		Address:   strings.TrimSpace(req.Address),
		AvatarURL: strings.TrimSpace(req.AvatarURL),
	})
	if existing, err := h.profiles.GetByID(r.Context(), userID); err == nil {
		p.IsVerifiedSupplier = existing.IsVerifiedSupplier
	}
	if err := h.profiles.Upsert(r.Context(), p); err != nil {
		writeRepoError(w, "profiles.upsert", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
