package grantor

import (
	"fmt"

	"github.com/forgecloud/grantor/utils"
)

// PolicyTable is the fixed, ordered set of access policies. It is built once
// at startup and never mutated afterwards, so concurrent readers need no
// locking. Definition order is evaluation order.
type PolicyTable struct {
	policies []AccessPolicy
	byName   map[string]int
}

// NewPolicyTable validates the given policies and freezes them into a table.
// Policy names must be unique, resource types known, and every condition name
// must resolve to a known kind (unresolvable names are rejected at load
// rather than silently failing closed per request).
func NewPolicyTable(policies []AccessPolicy) (*PolicyTable, error) {
	t := &PolicyTable{
		policies: make([]AccessPolicy, len(policies)),
		byName:   make(map[string]int, len(policies)),
	}
	copy(t.policies, policies)
	for i := range t.policies {
		p := &t.policies[i]
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d: missing name", i)
		}
		if _, dup := t.byName[p.Name]; dup {
			return nil, fmt.Errorf("policy %q: duplicate name", p.Name)
		}
		if !knownResourceType(p.ResourceType) {
			return nil, fmt.Errorf("policy %q: unknown resource type %q", p.Name, p.ResourceType)
		}
		if p.ResourcePattern == "" {
			return nil, fmt.Errorf("policy %q: missing resource pattern", p.Name)
		}
		if len(p.AllowedActions) == 0 && len(p.DeniedActions) == 0 {
			return nil, fmt.Errorf("policy %q: no allowed or denied actions", p.Name)
		}
		if p.TTLSeconds < 0 {
			return nil, fmt.Errorf("policy %q: negative ttl_seconds", p.Name)
		}
		for j := range p.Conditions {
			c := &p.Conditions[j]
			c.kind = ParseConditionKind(c.Name)
			if c.kind == ConditionUnknown {
				return nil, fmt.Errorf("policy %q: unknown condition %q", p.Name, c.Name)
			}
		}
		t.byName[p.Name] = i
	}
	return t, nil
}

// Len returns the number of policies in the table.
func (t *PolicyTable) Len() int { return len(t.policies) }

// Get returns the policy with the given name, or nil.
func (t *PolicyTable) Get(name string) *AccessPolicy {
	if i, ok := t.byName[name]; ok {
		return &t.policies[i]
	}
	return nil
}

// CandidatesFor returns, in table order, the policies whose resource type
// matches the request and whose substituted pattern matches the resource id.
func (t *PolicyTable) CandidatesFor(req *AccessRequest) []*AccessPolicy {
	var out []*AccessPolicy
	for i := range t.policies {
		p := &t.policies[i]
		if p.ResourceType != req.ResourceType {
			continue
		}
		vars := req.Context
		if vars == nil || vars["user_id"] == nil {
			// user_id is always available for substitution even when the
			// caller did not copy it into the context
			vars = withUserID(vars, req.UserID)
		}
		if !utils.MatchResource(p.ResourcePattern, req.ResourceID, vars) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func withUserID(vars map[string]any, userID string) map[string]any {
	merged := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	merged["user_id"] = userID
	return merged
}

func knownResourceType(rt ResourceType) bool {
	for _, k := range KnownResourceTypes {
		if k == rt {
			return true
		}
	}
	return false
}

// DefaultPolicies is the built-in table covering the platform's resource
// types: owner access to private assets and data, public shared assets,
// entitlement-gated model/dataset access, scoped bucket and secret access.
func DefaultPolicies() []AccessPolicy {
	return []AccessPolicy{
		{
			Name:            "user_asset_read",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/{user_id}/assets/*",
			AllowedActions:  []Action{"read", "download"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
		},
		{
			Name:            "user_asset_write",
			ResourceType:    ResourceAsset,
			ResourcePattern: "user/{user_id}/assets/*",
			AllowedActions:  []Action{"write", "delete"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
			TTLSeconds:      900,
		},
		{
			Name:            "shared_asset_read",
			ResourceType:    ResourceAsset,
			ResourcePattern: "shared/*",
			AllowedActions:  []Action{"read", "download"},
			Conditions:      []ConditionRequirement{{Name: "asset_is_public", Expected: true}},
		},
		{
			Name:            "model_inference",
			ResourceType:    ResourceModel,
			ResourcePattern: "model/*",
			AllowedActions:  []Action{"read", "infer"},
			Conditions:      []ConditionRequirement{{Name: "user_has_model_access", Expected: true}},
		},
		{
			Name:            "dataset_read",
			ResourceType:    ResourceDataset,
			ResourcePattern: "dataset/*",
			AllowedActions:  []Action{"read"},
			Conditions:      []ConditionRequirement{{Name: "user_has_dataset_access", Expected: true}},
		},
		{
			Name:            "user_bucket_access",
			ResourceType:    ResourceBucket,
			ResourcePattern: "*/user/{user_id}/*",
			AllowedActions:  []Action{"read", "write"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_resource", Expected: true}},
			TTLSeconds:      3600,
		},
		{
			Name:            "user_storage_access",
			ResourceType:    ResourceStorage,
			ResourcePattern: "user/{user_id}/*",
			AllowedActions:  []Action{"read", "write", "delete"},
			Conditions: []ConditionRequirement{
				{Name: "user_owns_data", Expected: true},
				{Name: "rate_limit_ok", Expected: true},
			},
		},
		{
			Name:            "user_secret_access",
			ResourceType:    ResourceSecret,
			ResourcePattern: "secret/user/{user_id}/*",
			AllowedActions:  []Action{"read"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_secret", Expected: true}},
			TTLSeconds:      300,
		},
		{
			Name:            "admin_api_access",
			ResourceType:    ResourceAPIEndpoint,
			ResourcePattern: "api/admin/*",
			AllowedActions:  []Action{"read", "write"},
			Conditions: []ConditionRequirement{
				{Name: "user_authenticated", Expected: true},
				{Name: "user_role", Expected: []string{"admin", "operator"}},
			},
		},
		{
			Name:            "user_data_export_deny",
			ResourceType:    ResourceUserData,
			ResourcePattern: "user/*/private/*",
			AllowedActions:  []Action{"read"},
			DeniedActions:   []Action{"export", "share"},
			Conditions:      []ConditionRequirement{{Name: "user_owns_data", Expected: true}},
		},
	}
}
