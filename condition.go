package grantor

import (
	"context"
	"strings"

	"github.com/forgecloud/grantor/logger"
	"github.com/forgecloud/grantor/utils"
)

// ConditionKind is the closed set of predicates a policy may require. Config
// strings resolve to a kind at table load; anything unrecognized resolves to
// ConditionUnknown, which always evaluates false (fail closed).
type ConditionKind int

const (
	ConditionUnknown ConditionKind = iota
	ConditionUserOwnsResource
	ConditionUserOwnsData
	ConditionUserOwnsSecret
	ConditionAssetIsPublic
	ConditionUserHasModelAccess
	ConditionUserHasDatasetAccess
	ConditionUserHasTrainingAccess
	ConditionUserAuthenticated
	ConditionUserRole
	ConditionStorageTier
	ConditionRateLimitOK
)

var conditionKinds = map[string]ConditionKind{
	"user_owns_resource":       ConditionUserOwnsResource,
	"user_owns_data":           ConditionUserOwnsData,
	"user_owns_secret":         ConditionUserOwnsSecret,
	"asset_is_public":          ConditionAssetIsPublic,
	"user_has_model_access":    ConditionUserHasModelAccess,
	"user_has_dataset_access":  ConditionUserHasDatasetAccess,
	"user_has_training_access": ConditionUserHasTrainingAccess,
	"user_authenticated":       ConditionUserAuthenticated,
	"user_role":                ConditionUserRole,
	"storage_tier":             ConditionStorageTier,
	"rate_limit_ok":            ConditionRateLimitOK,
}

// ParseConditionKind resolves a config-supplied condition name.
func ParseConditionKind(name string) ConditionKind {
	return conditionKinds[name]
}

func (k ConditionKind) String() string {
	for name, kind := range conditionKinds {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// EntitlementChecker is the external collaborator behind the
// user_has_*_access conditions. Real deployments wire this to an entitlement
// service; the default stub grants everything.
type EntitlementChecker interface {
	HasEntitlement(ctx context.Context, userID, resourceID, entitlement string) bool
}

// RateLimiter is the external collaborator behind rate_limit_ok.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) bool
}

// StubEntitlements grants every entitlement. Placeholder until an entitlement
// service is wired in.
type StubEntitlements struct{}

func (StubEntitlements) HasEntitlement(ctx context.Context, userID, resourceID, entitlement string) bool {
	return true
}

// NoopRateLimiter never throttles.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(ctx context.Context, userID string) bool { return true }

// ConditionEvaluator evaluates individual policy conditions against a
// request. It is pure apart from the entitlement and rate-limit collaborators.
type ConditionEvaluator struct {
	entitlements EntitlementChecker
	rateLimiter  RateLimiter
	log          logger.Logger
}

func NewConditionEvaluator(entitlements EntitlementChecker, rl RateLimiter, log logger.Logger) *ConditionEvaluator {
	if entitlements == nil {
		entitlements = StubEntitlements{}
	}
	if rl == nil {
		rl = NoopRateLimiter{}
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &ConditionEvaluator{entitlements: entitlements, rateLimiter: rl, log: log}
}

// Evaluate runs a single condition requirement. Unknown kinds fail closed and
// never panic.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, req *AccessRequest, cond *ConditionRequirement) bool {
	switch cond.kind {
	case ConditionUserOwnsResource, ConditionUserOwnsData:
		return ownsResource(req.UserID, req.ResourceID)
	case ConditionUserOwnsSecret:
		return ownsSecret(req.UserID, req.ResourceID)
	case ConditionAssetIsPublic:
		return strings.HasPrefix(req.ResourceID, "shared/") || strings.Contains(req.ResourceID, "/shared/")
	case ConditionUserHasModelAccess:
		return e.entitlements.HasEntitlement(ctx, req.UserID, req.ResourceID, "model")
	case ConditionUserHasDatasetAccess:
		return e.entitlements.HasEntitlement(ctx, req.UserID, req.ResourceID, "dataset")
	case ConditionUserHasTrainingAccess:
		return e.entitlements.HasEntitlement(ctx, req.UserID, req.ResourceID, "training")
	case ConditionUserAuthenticated:
		return truthy(req.Context["authenticated"])
	case ConditionUserRole:
		return roleMatches(req.Context["user_role"], cond.Expected)
	case ConditionStorageTier:
		return valueEquals(req.Context["storage_tier"], cond.Expected)
	case ConditionRateLimitOK:
		return e.rateLimiter.Allow(ctx, req.UserID)
	default:
		e.log.Error("unknown condition kind, failing closed",
			"condition", cond.Name, "user_id", req.UserID, "resource_id", req.ResourceID)
		return false
	}
}

// ownsResource: the resource identifier embeds an owner segment of the form
// user/<id>/.
func ownsResource(userID, resourceID string) bool {
	if userID == "" {
		return false
	}
	seg := "user/" + userID + "/"
	return strings.HasPrefix(resourceID, seg) || strings.Contains(resourceID, "/"+seg)
}

// ownsSecret additionally accepts the broker-style secret/user/<id>/ prefix.
func ownsSecret(userID, resourceID string) bool {
	if userID == "" {
		return false
	}
	if strings.HasPrefix(resourceID, "secret/user/"+userID+"/") {
		return true
	}
	return ownsResource(userID, resourceID)
}

func truthy(v any) bool {
	switch vv := v.(type) {
	case bool:
		return vv
	case string:
		return vv == "true" || vv == "1" || vv == "yes"
	case int:
		return vv != 0
	case float64:
		return vv != 0
	default:
		return false
	}
}

// roleMatches accepts a scalar expected role or a list of acceptable roles.
func roleMatches(actual, expected any) bool {
	if actual == nil {
		return false
	}
	got := utils.Stringify(actual)
	switch exp := expected.(type) {
	case []string:
		for _, r := range exp {
			if got == r {
				return true
			}
		}
		return false
	case []any:
		for _, r := range exp {
			if got == utils.Stringify(r) {
				return true
			}
		}
		return false
	case nil:
		return false
	default:
		return got == utils.Stringify(exp)
	}
}

func valueEquals(actual, expected any) bool {
	if actual == nil || expected == nil {
		return false
	}
	return utils.Stringify(actual) == utils.Stringify(expected)
}
