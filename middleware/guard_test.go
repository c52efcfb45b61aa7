package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sessionguard/sessionguard"
)

func newGuardedEngine(t *testing.T) *sessionguard.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := sessionguard.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.Issuer = "middleware-test"

	eng, err := sessionguard.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func issueSession(t *testing.T, eng *sessionguard.Engine) *sessionguard.CreateSessionResult {
	t.Helper()

	res, err := eng.CreateSession(context.Background(), sessionguard.CreateSessionRequest{
		UserID:   "user-1",
		TenantID: "acme",
		Device: sessionguard.DeviceInfo{
			Fingerprint: "fp-middleware",
			Platform:    "test",
		},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return res
}

func TestGuardInjectsValidationResult(t *testing.T) {
	eng := newGuardedEngine(t)
	created := issueSession(t, eng)

	var gotUserID string
	handler := Guard(eng, sessionguard.ModeInherit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := ValidationFromContext(r.Context())
		if !ok {
			t.Fatal("validation result missing from request context")
		}
		gotUserID = res.Claims.UserID
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+created.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if gotUserID != "user-1" {
		t.Fatalf("user id = %q, want user-1", gotUserID)
	}
}

func TestGuardRejectsMissingAndMalformedBearer(t *testing.T) {
	eng := newGuardedEngine(t)

	handler := Guard(eng, sessionguard.ModeInherit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	for _, header := range []string{"", "Bearer ", "Basic dXNlcjpwYXNz", "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestGuardRejectsRevokedToken(t *testing.T) {
	eng := newGuardedEngine(t)
	created := issueSession(t, eng)

	if err := eng.Terminate(context.Background(), sessionguard.TerminateRequest{
		TenantID:  "acme",
		SessionID: created.SessionID,
		Reason:    "logout",
	}); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	handler := RequireHybrid(eng)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a revoked token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+created.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestJWTOnlyGuardSkipsRevocation(t *testing.T) {
	eng := newGuardedEngine(t)
	created := issueSession(t, eng)

	if err := eng.Terminate(context.Background(), sessionguard.TerminateRequest{
		TenantID:  "acme",
		SessionID: created.SessionID,
	}); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	handler := RequireJWTOnly(eng)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+created.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestStrictGuardEnforcesSessionState(t *testing.T) {
	eng := newGuardedEngine(t)
	created := issueSession(t, eng)

	handler := RequireStrict(eng)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := ValidationFromContext(r.Context())
		if !ok || res.Session == nil {
			t.Fatal("strict guard should surface the session projection")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+created.Tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}
