package grantor

import (
	"context"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T, policies []AccessPolicy) *Engine {
	t.Helper()
	table, err := NewPolicyTable(policies)
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return NewEngine(table, nil, nil)
}

func TestSingleGrantingPolicy(t *testing.T) {
	eng := newTestEngine(t, []AccessPolicy{{
		Name:            "user_asset_read",
		ResourceType:    ResourceAsset,
		ResourcePattern: "user/{user_id}/assets/*",
		AllowedActions:  []Action{"read", "download"},
		Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
	}})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceAsset,
		ResourceID:   "user/42/assets/sword.png",
		Action:       "read",
		Context:      map[string]any{},
	})
	if !dec.Granted {
		t.Fatalf("expected grant, got deny: %s", dec.Reason)
	}
	if !strings.Contains(dec.Reason, "user_asset_read") {
		t.Fatalf("reason should name the policy, got %q", dec.Reason)
	}
}

func TestNoApplicablePolicy(t *testing.T) {
	eng := newTestEngine(t, []AccessPolicy{{
		Name:            "user_asset_read",
		ResourceType:    ResourceAsset,
		ResourcePattern: "user/{user_id}/assets/*",
		AllowedActions:  []Action{"read", "download"},
		Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
	}})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceAsset,
		ResourceID:   "user/42/assets/sword.png",
		Action:       "delete",
	})
	if dec.Granted {
		t.Fatalf("expected deny for uncovered action")
	}
	if dec.Reason != "no policy allows this action on this resource" {
		t.Fatalf("unexpected reason %q", dec.Reason)
	}
}

func TestDenyShortCircuitsLaterGrant(t *testing.T) {
	// first matching policy denies; a later policy would grant the same
	// action, but the evaluator stops at the first terminal verdict
	eng := newTestEngine(t, []AccessPolicy{
		{
			Name:            "asset_export_block",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/*",
			AllowedActions:  []Action{"read"},
			DeniedActions:   []Action{"export"},
		},
		{
			Name:            "asset_export_allow",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/{user_id}/assets/*",
			AllowedActions:  []Action{"export"},
		},
	})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceAsset,
		ResourceID:   "user/42/assets/sword.png",
		Action:       "export",
	})
	if dec.Granted {
		t.Fatalf("expected deny to win over later grant")
	}
	if !strings.Contains(dec.Reason, "asset_export_block") {
		t.Fatalf("reason should name the denying policy, got %q", dec.Reason)
	}
}

func TestGrantShortCircuitsLaterDeny(t *testing.T) {
	// the mirror of the above: a grant encountered first is terminal even
	// when a later policy would deny. Documented ordering risk, kept as is.
	eng := newTestEngine(t, []AccessPolicy{
		{
			Name:            "asset_export_allow",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/{user_id}/assets/*",
			AllowedActions:  []Action{"export"},
		},
		{
			Name:            "asset_export_block",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/*",
			AllowedActions:  []Action{"read"},
			DeniedActions:   []Action{"export"},
		},
	})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceAsset,
		ResourceID:   "user/42/assets/sword.png",
		Action:       "export",
	})
	if !dec.Granted {
		t.Fatalf("expected first grant to be terminal, got %q", dec.Reason)
	}
}

func TestResourceTypeFiltering(t *testing.T) {
	eng := newTestEngine(t, []AccessPolicy{{
		Name:            "model_read",
		ResourceType:    ResourceModel,
		ResourcePattern: "*",
		AllowedActions:  []Action{"read"},
	}})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceDataset,
		ResourceID:   "dataset/imagenet",
		Action:       "read",
	})
	if dec.Granted {
		t.Fatalf("policy for models must not match datasets")
	}
}

func TestConditionsAreANDed(t *testing.T) {
	eng := newTestEngine(t, []AccessPolicy{{
		Name:            "admin_api",
		ResourceType:    ResourceAPIEndpoint,
		ResourcePattern: "api/admin/*",
		AllowedActions:  []Action{"write"},
		Conditions: []ConditionRequirement{
			{Name: "user_authenticated", Expected: true},
			{Name: "user_role", Expected: []string{"admin"}},
		},
	}})

	// authenticated but wrong role: one failing condition skips the policy
	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "7",
		ResourceType: ResourceAPIEndpoint,
		ResourceID:   "api/admin/users",
		Action:       "write",
		Context:      map[string]any{"authenticated": true, "user_role": "viewer"},
	})
	if dec.Granted {
		t.Fatalf("expected deny with failing role condition")
	}

	dec = eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "7",
		ResourceType: ResourceAPIEndpoint,
		ResourceID:   "api/admin/users",
		Action:       "write",
		Context:      map[string]any{"authenticated": true, "user_role": "admin"},
	})
	if !dec.Granted {
		t.Fatalf("expected grant with all conditions holding: %s", dec.Reason)
	}
}

func TestFailedConditionFallsThroughToNextPolicy(t *testing.T) {
	eng := newTestEngine(t, []AccessPolicy{
		{
			Name:            "owner_read",
			ResourceType:    ResourceAsset,
			ResourcePattern: "*",
			AllowedActions:  []Action{"read"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
		},
		{
			Name:            "shared_read",
			ResourceType:    ResourceAsset,
			ResourcePattern: "shared/*",
			AllowedActions:  []Action{"read"},
		},
	})

	dec := eng.CheckAccess(context.Background(), &AccessRequest{
		UserID:       "42",
		ResourceType: ResourceAsset,
		ResourceID:   "shared/props/barrel.png",
		Action:       "read",
	})
	if !dec.Granted {
		t.Fatalf("expected fallthrough grant via shared_read: %s", dec.Reason)
	}
	if !strings.Contains(dec.Reason, "shared_read") {
		t.Fatalf("unexpected granting policy: %q", dec.Reason)
	}
}

func TestExplainTrace(t *testing.T) {
	eng := newTestEngine(t, DefaultPolicies())

	dec, trace := eng.CheckAccessExplain(context.Background(), ownerAssetRequest("42", "sword.png"))
	if !dec.Granted {
		t.Fatalf("expected grant: %s", dec.Reason)
	}
	if len(trace) == 0 {
		t.Fatalf("expected a non-empty trace")
	}
	found := false
	for _, step := range trace {
		if strings.Contains(step, "user_asset_read") && strings.Contains(step, "grant") {
			found = true
		}
	}
	if !found {
		t.Fatalf("trace should show the granting policy, got %v", trace)
	}
}

func TestUnknownConditionKindFailsClosed(t *testing.T) {
	ev := NewConditionEvaluator(nil, nil, nil)
	cond := &ConditionRequirement{Name: "made_up_condition"} // kind stays ConditionUnknown
	if ev.Evaluate(context.Background(), ownerAssetRequest("42", "a.png"), cond) {
		t.Fatalf("unknown condition must fail closed")
	}
}

func TestTableRejectsUnknownConditionName(t *testing.T) {
	_, err := NewPolicyTable([]AccessPolicy{{
		Name:            "bad",
		ResourceType:    ResourceAsset,
		ResourcePattern: "*",
		AllowedActions:  []Action{"read"},
		Conditions:      []ConditionRequirement{{Name: "no_such_condition"}},
	}})
	if err == nil {
		t.Fatalf("expected load-time rejection of unknown condition")
	}
}

func TestTableRejectsDuplicateNames(t *testing.T) {
	p := AccessPolicy{Name: "dup", ResourceType: ResourceAsset, ResourcePattern: "*", AllowedActions: []Action{"read"}}
	if _, err := NewPolicyTable([]AccessPolicy{p, p}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}
