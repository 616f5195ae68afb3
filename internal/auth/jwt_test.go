package auth

import (
	"errors"
	"testing"
	"time"
)

func TestClientTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("relay-secret", time.Hour)

	token, err := a.GenerateClientToken("kiosk-7")
	if err != nil {
		t.Fatalf("GenerateClientToken failed: %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.ClientID != "kiosk-7" {
		t.Errorf("Expected client kiosk-7, got %q", claims.ClientID)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	a := NewAuthenticator("relay-secret", time.Hour)
	other := NewAuthenticator("another-secret", time.Hour)
	foreign, _ := other.GenerateClientToken("kiosk-7")

	expired := NewAuthenticator("relay-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.GenerateClientToken("kiosk-7")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: stale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.ValidateToken(tt.token); err == nil {
				t.Error("Expected token to be rejected")
			}
		})
	}

	if _, err := a.ValidateToken(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestDisabledAuthenticator(t *testing.T) {
	a := NewAuthenticator("", 0)
	if a.Enabled() {
		t.Error("Expected authentication disabled without secret")
	}
	if _, err := a.GenerateClientToken("x"); err == nil {
		t.Error("Expected signing to fail without secret")
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def": "abc.def",
		"bearer abc":     "abc",
		"Basic abc":      "",
		"":               "",
		"Bearer ":        "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
