// ABOUTME: Tests for the bearer token HTTP middleware
// ABOUTME: Covers header extraction, rejection and claims propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Bearer abc.def", token: "abc.def"},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if (errMsg != "") != tt.wantErr {
			t.Errorf("extractBearerToken(%q) errMsg = %q", tt.header, errMsg)
		}
		if token != tt.token {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, token, tt.token)
		}
	}
}

func TestRequireBearer_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret, "")
	token, _ := verifier.Generate("channel", "https://smba.example.com", time.Hour)

	var got *Claims
	handler := RequireBearer(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.ServiceURL != "https://smba.example.com" {
		t.Errorf("claims = %+v", got)
	}
}

func TestRequireBearer_Rejects(t *testing.T) {
	verifier := NewJWTVerifier(testSecret, "")
	called := false
	handler := RequireBearer(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, header := range []string{"", "Token x", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "error") {
			t.Errorf("header %q: body = %q", header, rec.Body.String())
		}
	}
	if called {
		t.Error("handler should not run for rejected requests")
	}
}

func TestRequireBearer_NilVerifierPassesThrough(t *testing.T) {
	handler := RequireBearer(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) != nil {
			t.Error("no claims expected without a verifier")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
