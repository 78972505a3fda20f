package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("Correct-Horse-Battery-9")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encoded, "argon2id$") {
		t.Fatalf("verifier = %q", encoded)
	}

	ok, err := VerifyPassword("Correct-Horse-Battery-9", encoded)
	if err != nil || !ok {
		t.Fatalf("correct password rejected: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong-password", encoded)
	if err != nil || ok {
		t.Fatalf("wrong password accepted: ok=%v err=%v", ok, err)
	}

	if _, err := VerifyPassword("x", "not-a-verifier"); err == nil {
		t.Error("malformed verifier did not error")
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"Valid-Password-123", true},
		{"short-A1!", false},
		{"all-lowercase-123!", false},
		{"ALL-UPPERCASE-123!", false},
		{"No-Digits-Here-Yet!", false},
		{"NoSymbolsHere123A", false},
	}
	for _, tc := range cases {
		err := ValidatePasswordPolicy(tc.password)
		if (err == nil) != tc.ok {
			t.Errorf("ValidatePasswordPolicy(%q) = %v, want ok=%v", tc.password, err, tc.ok)
		}
	}
}

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestSessionLifecycle(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}

	cookie, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes: %+v", cookie)
	}

	if !m.Validate(requestWithCookie(cookie)) {
		t.Fatal("fresh session rejected")
	}
	if m.Validate(requestWithCookie(nil)) {
		t.Fatal("missing cookie accepted")
	}

	// Tampered signature.
	forged := *cookie
	forged.Value = strings.Split(cookie.Value, ".")[0] + ".forged-signature"
	if m.Validate(requestWithCookie(&forged)) {
		t.Fatal("forged signature accepted")
	}

	// Logout.
	expired := m.Revoke(requestWithCookie(cookie))
	if expired.MaxAge >= 0 {
		t.Errorf("logout cookie MaxAge = %d", expired.MaxAge)
	}
	if m.Validate(requestWithCookie(cookie)) {
		t.Fatal("revoked session accepted")
	}
}

func TestSessionExpiry(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}
	cookie, err := m.Issue()
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return time.Now().Add(SessionTTL + time.Hour) }
	if m.Validate(requestWithCookie(cookie)) {
		t.Fatal("expired session accepted")
	}
}

func TestLoginRateLimit(t *testing.T) {
	m, err := NewManager()
	if err != nil {
		t.Fatal(err)
	}
	allowed := 0
	for i := 0; i < 10; i++ {
		if m.AllowLoginAttempt() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("burst allowed %d attempts, want 5", allowed)
	}
}
