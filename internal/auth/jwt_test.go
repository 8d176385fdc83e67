package auth

import (
	"testing"
	"time"
)

func TestGenerateAndParseJWT(t *testing.T) {
	secret := "test-secret"

	tokenStr, err := GenerateJWT(secret, "user-42", false, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	claims, err := ParseJWT(secret, tokenStr)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Errorf("expected user_id=user-42, got %s", claims.UserID)
	}
	if claims.IsAdmin {
		t.Error("expected is_admin=false")
	}
}

func TestParseJWT_AdminFlagRoundTrips(t *testing.T) {
	tokenStr, err := GenerateJWT("secret", "admin-1", true, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	claims, err := ParseJWT("secret", tokenStr)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !claims.IsAdmin {
		t.Error("expected is_admin=true")
	}
}

func TestParseJWT_WrongSecret(t *testing.T) {
	tokenStr, err := GenerateJWT("secret-a", "user-1", false, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if _, err := ParseJWT("secret-b", tokenStr); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestGenerateJWT_NonPositiveExpirationUsesDefault(t *testing.T) {
	tokenStr, err := GenerateJWT("secret", "user-1", false, -time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if _, err := ParseJWT("secret", tokenStr); err != nil {
		t.Errorf("token with defaulted expiration should parse, got: %v", err)
	}
}

func TestParseJWT_Garbage(t *testing.T) {
	if _, err := ParseJWT("secret", "garbage.token.value"); err == nil {
		t.Error("expected error for garbage token")
	}
}
