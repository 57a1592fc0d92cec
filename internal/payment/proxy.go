// Package payment — тонкий прокси к внешнему платёжному сервису. Логики оплаты здесь нет.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

const (
	CheckoutPath    = "/api/create-checkout-session"
	MobileMoneyPath = "/api/initiate-mobile-money"

	maxBodySize = 64 << 10
)

var (
	ErrNotConfigured = errors.New("payment: service not configured")
	ErrInvalid       = errors.New("payment: invalid request")
)

type Proxy struct {
	baseURL    string
	httpClient *http.Client
}

// NewProxy: пустой baseURL — все запросы получают 503.
func NewProxy(baseURL string) *Proxy {
	return &Proxy{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ValidateCheckout проверяет обязательные поля.
func ValidateCheckout(req model.CheckoutRequest) error {
	if req.UserID == "" || req.UserEmail == "" {
		return fmt.Errorf("%w: missing userId or userEmail", ErrInvalid)
	}
	return nil
}

// NormalizeMobileMoney проверяет запрос и подставляет значения по умолчанию.
func NormalizeMobileMoney(req model.MobileMoneyRequest) (model.MobileMoneyRequest, error) {
	if req.UserID == "" || req.UserEmail == "" || req.PhoneNumber == "" || req.Provider == "" {
		return req, fmt.Errorf("%w: missing userId, userEmail, phoneNumber or provider", ErrInvalid)
	}
	if req.Amount < 0 {
		return req, fmt.Errorf("%w: negative amount", ErrInvalid)
	}
	if req.Amount == 0 {
		req.Amount = model.DefaultVerificationAmount
	}
	req.Provider = strings.ToUpper(req.Provider)
	return req, nil
}

func (p *Proxy) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req model.CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	if err := ValidateCheckout(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.forward(r.Context(), w, CheckoutPath, req)
}

func (p *Proxy) InitiateMobileMoney(w http.ResponseWriter, r *http.Request) {
	var req model.MobileMoneyRequest
	if !decode(w, r, &req) {
		return
	}
	req, err := NormalizeMobileMoney(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.forward(r.Context(), w, MobileMoneyPath, req)
}

// forward передаёт запрос платёжному сервису и возвращает его ответ без изменений.
func (p *Proxy) forward(ctx context.Context, w http.ResponseWriter, path string, body any) {
	if p.baseURL == "" {
		writeError(w, http.StatusServiceUnavailable, ErrNotConfigured.Error())
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode request")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Errorf("payment %s: %v", path, err)
		writeError(w, http.StatusBadGateway, "payment service unavailable")
		return
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Errorf("payment %s relay: %v", path, err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
