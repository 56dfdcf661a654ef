package grantor

import (
	"time"
)

// ResourceType classifies what a policy or request refers to.
type ResourceType string

const (
	ResourceAsset       ResourceType = "asset"
	ResourceModel       ResourceType = "model"
	ResourceDataset     ResourceType = "dataset"
	ResourceBucket      ResourceType = "bucket"
	ResourceStorage     ResourceType = "storage"
	ResourceSecret      ResourceType = "secret"
	ResourceAPIEndpoint ResourceType = "api_endpoint"
	ResourceUserData    ResourceType = "user_data"
)

// KnownResourceTypes lists every valid ResourceType, used by config validation.
var KnownResourceTypes = []ResourceType{
	ResourceAsset, ResourceModel, ResourceDataset, ResourceBucket,
	ResourceStorage, ResourceSecret, ResourceAPIEndpoint, ResourceUserData,
}

// Action represents how a resource is being accessed (read, write, delete, ...)
type Action string

// AccessPolicy binds a resource type and pattern to allowed/denied actions and
// the conditions that must hold. Policies are immutable after load; the table
// order is the evaluation order.
type AccessPolicy struct {
	Name            string                 `json:"name" yaml:"name"`
	ResourceType    ResourceType           `json:"resource_type" yaml:"resource_type"`
	ResourcePattern string                 `json:"resource_pattern" yaml:"resource_pattern"`
	AllowedActions  []Action               `json:"allowed_actions" yaml:"allowed_actions"`
	DeniedActions   []Action               `json:"denied_actions,omitempty" yaml:"denied_actions,omitempty"`
	Conditions      []ConditionRequirement `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	TTLSeconds      int64                  `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// ConditionRequirement names a condition and the value it must evaluate
// against. Requirements on a policy combine with AND semantics.
type ConditionRequirement struct {
	Name     string `json:"name" yaml:"name"`
	Expected any    `json:"expected" yaml:"expected"`

	kind ConditionKind // resolved at table load
}

// Kind returns the resolved condition kind. ConditionUnknown before load.
func (c *ConditionRequirement) Kind() ConditionKind { return c.kind }

// Allows reports whether action is in the policy's allowed set.
func (p *AccessPolicy) Allows(action Action) bool {
	for _, a := range p.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Denies reports whether action is in the policy's denied set.
func (p *AccessPolicy) Denies(action Action) bool {
	for _, a := range p.DeniedActions {
		if a == action {
			return true
		}
	}
	return false
}

// AccessRequest is the transient question put to the engine: may user_id
// perform action on resource_id of resource_type, given this caller-supplied
// context (ownership hints, role, authentication flag, tier, ...).
type AccessRequest struct {
	UserID       string         `json:"user_id"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Action       Action         `json:"action"`
	Context      map[string]any `json:"context,omitempty"`
	RequestedAt  time.Time      `json:"requested_at"`
}

// AccessDecision is the engine's answer. Decisions are data, not errors: a
// deny is a normal return value carrying a human-readable reason.
type AccessDecision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
	Policy  string `json:"policy,omitempty"` // name of the deciding policy, if any
}

// CredentialProvider identifies which backend minted a credential.
type CredentialProvider string

const (
	ProviderCloudSTS            CredentialProvider = "cloud-sts"
	ProviderSecretsBroker       CredentialProvider = "secrets-broker"
	ProviderSignedToken         CredentialProvider = "signed-token"
	ProviderSignedTokenFallback CredentialProvider = "signed-token-fallback"
)

// Credential is a short-lived, single-action credential scoped to one
// resource. The concrete key material depends on the provider: cloud-sts
// carries an access/secret/session triple, the other providers carry Token.
type Credential struct {
	ID             string             `json:"id"`
	Provider       CredentialProvider `json:"provider"`
	Token          string             `json:"token,omitempty"`
	AccessKeyID    string             `json:"access_key_id,omitempty"`
	SecretKey      string             `json:"secret_key,omitempty"`
	SessionToken   string             `json:"session_token,omitempty"`
	ResourceID     string             `json:"resource_id"`
	AllowedActions []Action           `json:"allowed_actions"`
	ExpiresAt      time.Time          `json:"expires_at"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

// Expired reports whether the credential's lifetime has elapsed at now.
func (c *Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// PresignedURL is a time-bounded URL granting direct access to one object
// without a bearer credential.
type PresignedURL struct {
	URL        string            `json:"url"`
	Method     string            `json:"http_method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	ResourceID string            `json:"resource_id"`
}
