package auth

import (
	"testing"
	"time"

	"companion-calls/internal/config"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "op-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok == "" {
		t.Fatal("expected token string")
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.OperatorID != "op-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "op-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(2*time.Minute)); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewManager(config.AuthConfig{JWTSecret: "secret-a", AccessTokenTTL: time.Minute})
	b, _ := NewManager(config.AuthConfig{JWTSecret: "secret-b", AccessTokenTTL: time.Minute})

	now := time.Now()
	tok, err := a.Issue(now, "op-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, now); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
