package grantor

import (
	"context"
	"testing"
	"time"
)

func TestValidateSignedToken(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"), "grantor-test")
	v := NewTokenValidator(signer, nil, NewCredentialCache(0), nil)
	ctx := context.Background()

	req := ownerAssetRequest("42", "sword.png")
	now := time.Now()
	token, err := signer.Sign(NewTokenClaims(req, now.Add(time.Minute), now))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !v.Validate(ctx, token, req.ResourceID, "read") {
		t.Fatalf("expected valid token for matching resource/action")
	}
	if v.Validate(ctx, token, "user/43/assets/sword.png", "read") {
		t.Fatalf("token for another resource must be invalid")
	}
	if v.Validate(ctx, token, req.ResourceID, "delete") {
		t.Fatalf("token must only cover the issued action")
	}
}

func TestValidateExpiredSignedToken(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"), "")
	v := NewTokenValidator(signer, nil, NewCredentialCache(0), nil)

	req := ownerAssetRequest("42", "sword.png")
	past := time.Now().Add(-time.Hour)
	token, err := signer.Sign(NewTokenClaims(req, past.Add(time.Minute), past))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if v.Validate(context.Background(), token, req.ResourceID, "read") {
		t.Fatalf("expired token must be invalid")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"), "")
	other := NewHMACSigner([]byte("other-secret"), "")
	v := NewTokenValidator(other, nil, NewCredentialCache(0), nil)

	req := ownerAssetRequest("42", "sword.png")
	now := time.Now()
	token, _ := signer.Sign(NewTokenClaims(req, now.Add(time.Minute), now))
	if v.Validate(context.Background(), token, req.ResourceID, "read") {
		t.Fatalf("token signed with another secret must be invalid")
	}
}

func TestValidateUnsignedFallbackAlwaysPasses(t *testing.T) {
	// the unsigned fallback format is accepted without checks; a known
	// weakness kept on purpose
	v := NewTokenValidator(nil, nil, NewCredentialCache(0), nil)
	token := unsignedTokenPrefix + "whatever"
	if !v.Validate(context.Background(), token, "any/resource", "any") {
		t.Fatalf("unsigned fallback token must validate")
	}
}

func TestValidateBrokerToken(t *testing.T) {
	broker := newFakeBroker()
	v := NewTokenValidator(nil, broker, NewCredentialCache(0), nil)
	ctx := context.Background()

	tok, err := broker.CreateToken(ctx, []string{"p"}, time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if !v.Validate(ctx, tok.Token, "secret/user/42/api-key", "read") {
		t.Fatalf("live broker token must validate")
	}
	if v.Validate(ctx, "hvs.unknown", "secret/user/42/api-key", "read") {
		t.Fatalf("unknown broker token must be invalid")
	}

	broker.lookup[tok.Token].Valid = false
	if v.Validate(ctx, tok.Token, "secret/user/42/api-key", "read") {
		t.Fatalf("expired broker token must be invalid")
	}
}

func TestValidateUnrecognizedToken(t *testing.T) {
	v := NewTokenValidator(nil, nil, NewCredentialCache(0), nil)
	if v.Validate(context.Background(), "garbage", "r", "read") {
		t.Fatalf("unrecognized token must be invalid")
	}
}

func TestRevokeBrokerToken(t *testing.T) {
	broker := newFakeBroker()
	cache := NewCredentialCache(0)
	v := NewTokenValidator(nil, broker, cache, nil)
	ctx := context.Background()

	tok, _ := broker.CreateToken(ctx, []string{"p"}, time.Minute, time.Minute)
	cache.Put(&Credential{
		ID:         "cred-1",
		Provider:   ProviderSecretsBroker,
		Token:      tok.Token,
		ResourceID: "secret/user/42/api-key",
		ExpiresAt:  time.Now().Add(time.Minute),
	})

	if !v.Revoke(ctx, tok.Token) {
		t.Fatalf("broker revocation should succeed")
	}
	if len(broker.revoked) != 1 || broker.revoked[0] != tok.Token {
		t.Fatalf("broker should have been asked to revoke, got %v", broker.revoked)
	}
	if _, ok := cache.Get("cred-1"); ok {
		t.Fatalf("revoked credential should leave the cache")
	}
	if v.Validate(ctx, tok.Token, "secret/user/42/api-key", "read") {
		t.Fatalf("revoked broker token must no longer validate")
	}
}

func TestRevokeSignedTokenIsAdvisory(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"), "")
	v := NewTokenValidator(signer, nil, NewCredentialCache(0), nil)
	ctx := context.Background()

	req := ownerAssetRequest("42", "sword.png")
	now := time.Now()
	token, _ := signer.Sign(NewTokenClaims(req, now.Add(time.Minute), now))

	if !v.Revoke(ctx, token) {
		t.Fatalf("signed token revocation is advisory and reports success")
	}
	// the token still verifies until natural expiry
	if !v.Validate(ctx, token, req.ResourceID, "read") {
		t.Fatalf("signed token remains valid after advisory revocation")
	}
}

func TestRevokeUnknownToken(t *testing.T) {
	v := NewTokenValidator(nil, nil, NewCredentialCache(0), nil)
	if v.Revoke(context.Background(), "garbage") {
		t.Fatalf("nothing to revoke should report failure")
	}
}
