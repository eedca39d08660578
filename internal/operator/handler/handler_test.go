package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"gemma/internal/operator/service"
	"gemma/internal/operator/store"
	id "gemma/pkg/domain"
)

type staticIssuer struct{}

func (staticIssuer) GenerateAccessToken(_ id.OperatorID, username string, _ time.Duration) (string, error) {
	return "token-" + username, nil
}

func newOperatorRouter(t *testing.T) chi.Router {
	t.Helper()

	svc := service.New(store.NewInMemory(), staticIssuer{})
	if _, err := svc.Create(t.Context(), "anna.b", "correct horse", "Anna Bianchi"); err != nil {
		t.Fatalf("failed to seed operator: %v", err)
	}

	router := chi.NewRouter()
	h := New(svc, slog.Default())
	h.RegisterPublic(router)
	h.Register(router)
	return router
}

func postJSON(t *testing.T, router chi.Router, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginIssuesToken(t *testing.T) {
	router := newOperatorRouter(t)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"username": "anna.b", "password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 logging in, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if resp.AccessToken != "token-anna.b" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token payload: %+v", resp)
	}
	if resp.ExpiresIn != int64((12 * time.Hour).Seconds()) {
		t.Fatalf("expected 12h expiry, got %d", resp.ExpiresIn)
	}
	if resp.Operator.Username != "anna.b" {
		t.Fatalf("expected operator summary in response, got %+v", resp.Operator)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newOperatorRouter(t)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"username": "anna.b", "password": "battery staple",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope.Error != "unauthorized" {
		t.Fatalf("expected unauthorized error code, got %q", envelope.Error)
	}
}

func TestLoginValidation(t *testing.T) {
	router := newOperatorRouter(t)

	rec := postJSON(t, router, "/auth/login", map[string]string{"username": "anna.b"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
}

func TestCreateOperatorViaHandler(t *testing.T) {
	router := newOperatorRouter(t)

	rec := postJSON(t, router, "/operators", map[string]string{
		"username": "luca.v", "password": "lungo abbastanza", "display_name": "Luca Verdi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating operator, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp OperatorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode operator response: %v", err)
	}
	if resp.Status != "active" || resp.ID == "" {
		t.Fatalf("unexpected operator payload: %+v", resp)
	}

	rec = postJSON(t, router, "/operators", map[string]string{
		"username": "luca.v", "password": "lungo abbastanza",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}
}

func TestWhoAmIRequiresAuthContext(t *testing.T) {
	router := newOperatorRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an authenticated operator, got %d", rec.Code)
	}
}
