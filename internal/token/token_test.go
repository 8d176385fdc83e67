package token

import (
	"testing"
	"time"
)

func TestNewProducesVerifiableHash(t *testing.T) {
	raw, hash, err := New()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if raw == "" || hash == "" {
		t.Fatal("expected non-empty token and hash")
	}
	if raw == hash {
		t.Fatal("raw token must differ from its hash")
	}
	if !Matches(raw, hash) {
		t.Error("freshly issued token should match its own hash")
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		raw, _, err := New()
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if seen[raw] {
			t.Fatalf("duplicate token generated: %s", raw)
		}
		seen[raw] = true
	}
}

func TestMatchesRejectsWrongToken(t *testing.T) {
	_, hash, err := New()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if Matches("some-other-token", hash) {
		t.Error("wrong token must not match")
	}
	if Matches("", hash) {
		t.Error("empty token must not match")
	}
	if Matches("token", "") {
		t.Error("empty hash must not match")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if Expired(nil, now) {
		t.Error("nil expiry must never expire")
	}
	if Expired(&future, now) {
		t.Error("future expiry should not be expired")
	}
	if !Expired(&past, now) {
		t.Error("past expiry should be expired")
	}
}
