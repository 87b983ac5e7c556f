package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ActorID(r.Context())))
	})
}

func signed(t *testing.T, secret string, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestAuthenticateHeaderMode(t *testing.T) {
	h := Authenticate(AuthConfig{})(echoActor())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "u-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u-1" {
		t.Errorf("got %d %q, want 200 u-1", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateTokenMode(t *testing.T) {
	const secret = "s3cret"
	cfg := AuthConfig{Secret: secret, Issuer: "expense-approvals"}
	h := Authenticate(cfg)(echoActor())

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  string
	}{
		{
			name:       "valid",
			header:     "Bearer " + signed(t, secret, jwt.RegisteredClaims{Subject: "u-1", Issuer: cfg.Issuer, ExpiresAt: future}, jwt.SigningMethodHS256),
			wantStatus: http.StatusOK,
			wantActor:  "u-1",
		},
		{
			name:       "lowercase scheme",
			header:     "bearer " + signed(t, secret, jwt.RegisteredClaims{Subject: "u-2", Issuer: cfg.Issuer}, jwt.SigningMethodHS256),
			wantStatus: http.StatusOK,
			wantActor:  "u-2",
		},
		{
			name:       "expired",
			header:     "Bearer " + signed(t, secret, jwt.RegisteredClaims{Subject: "u-1", Issuer: cfg.Issuer, ExpiresAt: past}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + signed(t, "other", jwt.RegisteredClaims{Subject: "u-1", Issuer: cfg.Issuer}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			header:     "Bearer " + signed(t, secret, jwt.RegisteredClaims{Subject: "u-1", Issuer: "someone-else"}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong algorithm",
			header:     "Bearer " + signed(t, secret, jwt.RegisteredClaims{Subject: "u-1", Issuer: cfg.Issuer}, jwt.SigningMethodHS512),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no subject",
			header:     "Bearer " + signed(t, secret, jwt.RegisteredClaims{Issuer: cfg.Issuer}, jwt.SigningMethodHS256),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no scheme",
			header:     "u-1",
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			req.Header.Set(UserIDHeader, "ignored-in-token-mode")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantActor {
				t.Errorf("actor = %q, want %q", rec.Body.String(), tt.wantActor)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["code"] != "UNAUTHENTICATED" {
					t.Errorf("error body = %s", rec.Body.String())
				}
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id %q, response header %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("request id = %q, want caller's abc", seen)
	}
}

func TestLoggerAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := RequestID(Logger(&log)(Recovery(&log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/expenses", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	out := buf.String()
	for _, want := range []string{"Recovered from panic", `"status":500`, `"path":"/api/v1/expenses"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !ok || time.Until(deadline) > time.Second {
		t.Errorf("deadline = %v (set %v), want within 1s", deadline, ok)
	}

	ctx := WithActorID(context.Background(), "u-9")
	if ActorID(ctx) != "u-9" {
		t.Errorf("ActorID() = %q", ActorID(ctx))
	}
}
