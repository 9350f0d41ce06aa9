package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func useSecret(t *testing.T, secret string) {
	t.Helper()
	t.Setenv("JWT_SECRET", secret)
	resetSecretForTests()
	t.Cleanup(resetSecretForTests)
}

func TestGenerateAndValidateJWT(t *testing.T) {
	useSecret(t, "test-secret")

	token, err := GenerateJWT("operator")
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT returned error: %v", err)
	}
	if claims["username"] != "operator" {
		t.Fatalf("username claim = %v", claims["username"])
	}

	resetSecretForTests()
	t.Setenv("JWT_SECRET", "other-secret")
	if _, err := ValidateJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with a different secret, got %v", err)
	}
}

func TestCheckCredentials(t *testing.T) {
	t.Setenv("VALID_USERNAME", "admin")
	t.Setenv("VALID_PASSWORD", "hunter22")

	if ok, err := CheckCredentials("admin", "hunter22"); err != nil || !ok {
		t.Fatalf("valid credentials rejected: ok=%v err=%v", ok, err)
	}
	if ok, _ := CheckCredentials("admin", "wrong"); ok {
		t.Fatal("wrong password accepted")
	}
	if ok, _ := CheckCredentials("root", "hunter22"); ok {
		t.Fatal("wrong username accepted")
	}

	hashed, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	t.Setenv("VALID_PASSWORD", hashed)
	if ok, _ := CheckCredentials("admin", "s3cret-pass"); !ok {
		t.Fatal("bcrypt password rejected")
	}
	if ok, _ := CheckCredentials("admin", hashed); ok {
		t.Fatal("hash itself must not be accepted as the password")
	}

	t.Setenv("VALID_PASSWORD", "")
	if _, err := CheckCredentials("admin", ""); !errors.Is(err, ErrCredentialsNotConfigured) {
		t.Fatalf("expected ErrCredentialsNotConfigured, got %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	useSecret(t, "middleware-secret")

	var seen string
	protected := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUsernameFromRequest(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sites", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}

	token, err := GenerateJWT("operator")
	if err != nil {
		t.Fatalf("GenerateJWT returned error: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen != "operator" {
		t.Fatalf("valid token: status=%d user=%q", rec.Code, seen)
	}
}

func TestLoginLimiter(t *testing.T) {
	limiter := NewLoginLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < loginBurst; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("attempt %d rejected within burst", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("attempt beyond burst allowed")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("other client throttled")
	}

	now = now.Add(loginRefill)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("attempt after refill rejected")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := ClientIP(req); got != "192.0.2.10" {
		t.Fatalf("ClientIP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.5" {
		t.Fatalf("ClientIP with forwarded header = %q", got)
	}
}
