package auth

import (
	"testing"
	"time"

	"nutbutter/config"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "test-secret", Issuer: "nutbutter-store"}
	token, err := GenerateAccessToken(cfg, 42, "jane@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.CustomerID != 42 || claims.Email != "jane@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseAccessToken_Invalid(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "test-secret"}
	if _, err := ParseAccessToken(cfg, "not-a-token"); err == nil {
		t.Fatal("expected error for garbage token")
	}
	expired, err := GenerateAccessToken(cfg, 42, "jane@example.com", -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAccessToken(cfg, expired); err == nil {
		t.Fatal("expected error for expired token")
	}
	other, err := GenerateAccessToken(&config.JWTConfig{AccessSecret: "other-secret"}, 42, "jane@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAccessToken(cfg, other); err == nil {
		t.Fatal("expected error for token signed with another secret")
	}
}
