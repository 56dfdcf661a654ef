package grantor

import (
	"context"
	"testing"
)

type denyAllEntitlements struct{}

func (denyAllEntitlements) HasEntitlement(ctx context.Context, userID, resourceID, entitlement string) bool {
	return false
}

type blockedRateLimiter struct{}

func (blockedRateLimiter) Allow(ctx context.Context, userID string) bool { return false }

func evalCond(t *testing.T, ev *ConditionEvaluator, req *AccessRequest, name string, expected any) bool {
	t.Helper()
	cond := &ConditionRequirement{Name: name, Expected: expected, kind: ParseConditionKind(name)}
	return ev.Evaluate(context.Background(), req, cond)
}

func TestOwnershipConditions(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)

	owned := &AccessRequest{UserID: "42", ResourceID: "user/42/assets/sword.png"}
	foreign := &AccessRequest{UserID: "42", ResourceID: "user/43/assets/sword.png"}
	nested := &AccessRequest{UserID: "42", ResourceID: "bucket/user/42/obj"}
	secret := &AccessRequest{UserID: "42", ResourceID: "secret/user/42/api-key"}
	anon := &AccessRequest{UserID: "", ResourceID: "user//assets/x"}

	if !evalCond(t, ev, owned, "user_owns_resource", true) {
		t.Fatalf("owner should pass")
	}
	if evalCond(t, ev, foreign, "user_owns_resource", true) {
		t.Fatalf("foreign resource should fail")
	}
	if !evalCond(t, ev, nested, "user_owns_data", true) {
		t.Fatalf("owner segment mid-path should pass")
	}
	if !evalCond(t, ev, secret, "user_owns_secret", true) {
		t.Fatalf("secret prefix should pass")
	}
	if evalCond(t, ev, anon, "user_owns_resource", true) {
		t.Fatalf("empty user id must never own anything")
	}
}

func TestPublicAssetCondition(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)
	if !evalCond(t, ev, &AccessRequest{ResourceID: "shared/props/barrel.png"}, "asset_is_public", true) {
		t.Fatalf("shared/ prefix should pass")
	}
	if evalCond(t, ev, &AccessRequest{ResourceID: "user/42/assets/a.png"}, "asset_is_public", true) {
		t.Fatalf("private asset should fail")
	}
}

func TestEntitlementConditionsDelegate(t *testing.T) {
	req := &AccessRequest{UserID: "42", ResourceID: "model/llama"}

	stubbed := NewConditionEvaluator(nil, nil, nil)
	if !evalCond(t, stubbed, req, "user_has_model_access", true) {
		t.Fatalf("stub entitlements grant everything")
	}

	strict := NewConditionEvaluator(denyAllEntitlements{}, nil, nil)
	for _, name := range []string{"user_has_model_access", "user_has_dataset_access", "user_has_training_access"} {
		if evalCond(t, strict, req, name, true) {
			t.Fatalf("%s should delegate to the entitlement checker", name)
		}
	}
}

func TestAuthenticatedCondition(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)
	cases := []struct {
		val  any
		want bool
	}{
		{true, true}, {"true", true}, {1, true},
		{false, false}, {"no", false}, {nil, false},
	}
	for _, c := range cases {
		req := &AccessRequest{Context: map[string]any{"authenticated": c.val}}
		if got := evalCond(t, ev, req, "user_authenticated", true); got != c.want {
			t.Fatalf("authenticated=%v: got %v want %v", c.val, got, c.want)
		}
	}
}

func TestRoleCondition(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)
	req := &AccessRequest{Context: map[string]any{"user_role": "admin"}}

	if !evalCond(t, ev, req, "user_role", "admin") {
		t.Fatalf("scalar match should pass")
	}
	if !evalCond(t, ev, req, "user_role", []string{"operator", "admin"}) {
		t.Fatalf("list membership should pass")
	}
	if !evalCond(t, ev, req, "user_role", []any{"operator", "admin"}) {
		t.Fatalf("decoded yaml lists are []any")
	}
	if evalCond(t, ev, req, "user_role", []string{"viewer"}) {
		t.Fatalf("non-member should fail")
	}
	if evalCond(t, ev, &AccessRequest{}, "user_role", "admin") {
		t.Fatalf("missing role should fail")
	}
}

func TestStorageTierCondition(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)
	req := &AccessRequest{Context: map[string]any{"storage_tier": "premium"}}
	if !evalCond(t, ev, req, "storage_tier", "premium") {
		t.Fatalf("matching tier should pass")
	}
	if evalCond(t, ev, req, "storage_tier", "standard") {
		t.Fatalf("other tier should fail")
	}
}

func TestRateLimitCondition(t *testing.T) {
	open := NewConditionEvaluator(nil, nil, nil)
	req := &AccessRequest{UserID: "42"}
	if !evalCond(t, open, req, "rate_limit_ok", true) {
		t.Fatalf("noop limiter always allows")
	}
	blocked := NewConditionEvaluator(nil, blockedRateLimiter{}, nil)
	if evalCond(t, blocked, req, "rate_limit_ok", true) {
		t.Fatalf("blocked limiter should fail the condition")
	}
}
