package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesParticipantTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueParticipantToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != DefaultAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := mustIssuer(t, []byte("another-secret"), time.Now)

	tokenString, _, err := issuer.IssueParticipantToken(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if subject != "user-321" {
		t.Fatalf("unexpected subject %s", subject)
	}

	if _, err := issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAndExpiredTokens(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	current := now
	clock := func() time.Time { return current }

	issuer := mustIssuer(t, []byte("secret-a"), clock)
	foreign := mustIssuer(t, []byte("secret-b"), clock)

	token, _, err := foreign.IssueParticipantToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if _, err := issuer.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch to fail, got %v", err)
	}

	token, _, err = issuer.IssueParticipantToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	current = now.Add(2 * time.Hour)
	if _, err := issuer.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestTokenIssuerRejectsBlankSubject(t *testing.T) {
	issuer := mustIssuer(t, []byte("secret"), time.Now)
	if _, _, err := issuer.IssueParticipantToken(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank subject")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	cases := map[string]TokenIssuerConfig{
		"missing secret":   {Issuer: "a", Audience: "b", TokenTTL: time.Minute},
		"missing issuer":   {SigningSecret: []byte("s"), Audience: "b", TokenTTL: time.Minute},
		"missing audience": {SigningSecret: []byte("s"), Issuer: "a", Audience: " ", TokenTTL: time.Minute},
		"zero ttl":         {SigningSecret: []byte("s"), Issuer: "a", Audience: "b"},
	}
	for name, cfg := range cases {
		if _, err := NewTokenIssuer(cfg); err == nil {
			t.Fatalf("%s: expected constructor error", name)
		}
	}
}

func mustIssuer(t *testing.T, secret []byte, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: secret,
		Issuer:        DefaultIssuer,
		Audience:      DefaultAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}
