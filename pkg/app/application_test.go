package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"

	"herenow/pkg/client"
	"herenow/pkg/config"
	apperrors "herenow/pkg/errors"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
)

type whoAmI struct{}

func (whoAmI) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/whoami", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID, err := identity.ContextProvider{}.UserID(r.Context())
		if err != nil {
			_ = apperrors.WriteError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	})
}

type verifierFunc func(string) (string, error)

func (f verifierFunc) Verify(token string) (string, error) { return f(token) }

func newTestApp(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Port:               "8080",
		CORSAllowedOrigins: []string{"https://app.example"},
		RequestTimeout:     time.Second,
		IdempotencyTTL:     time.Minute,
		MaxRequestSize:     1024,
		ShutdownTimeout:    time.Second,
		Log:                logger.Discard(),
		Client:             client.NewClient(),
	}
	verifier := verifierFunc(func(token string) (string, error) {
		if token != "good" {
			return "", apperrors.Unauthenticated("Invalid credentials")
		}
		return "u1", nil
	})

	a := NewApplication(cfg)
	a.SetApp(verifier, nil, whoAmI{})
	t.Cleanup(a.idempotencyStore.Stop)
	return a.Handler()
}

func TestApplication_Health(t *testing.T) {
	h := newTestApp(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestApplication_Authentication(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer good", http.StatusOK},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
		{"anonymous", "", http.StatusUnauthorized},
	}

	h := newTestApp(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestApplication_CORSPreflight(t *testing.T) {
	h := newTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/whoami", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/whoami", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}
