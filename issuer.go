package grantor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgecloud/grantor/logger"
)

// unsignedTokenPrefix marks credentials minted without any signer configured.
// Tokens with this prefix are accepted as-is by the validator; that is a
// known weakness of the fallback, kept for compatibility and flagged loudly
// at issuance time. Operators seeing "unsigned fallback" in logs should
// configure a signing secret.
const unsignedTokenPrefix = "grantor-opaque-v1:"

const (
	defaultMaxTTL      = time.Hour
	defaultIssuerTTL   = 15 * time.Minute
	retryAttempts      = 3
	retryBackoffBase   = 100 * time.Millisecond
	brokerPolicyPrefix = "grantor-scope-"
)

// Issuer mints short-lived credentials for granted requests. Backends are
// capability interfaces; a nil backend is simply skipped by the fallback
// chain. The chain is: cloud STS (bucket resources) -> secrets broker
// (secret resources) -> signed token -> unsigned opaque fallback. A backend
// failure is logged and falls through; the caller only sees an error when
// every rung fails.
type Issuer struct {
	engine *Engine
	table  *PolicyTable
	cloud  CloudCredentials
	broker SecretsBroker
	signer TokenSigner
	cache  *CredentialCache
	maxTTL time.Duration
	log    logger.Logger
	now    func() time.Time
}

func NewIssuer(engine *Engine, table *PolicyTable, cache *CredentialCache, log logger.Logger) *Issuer {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Issuer{
		engine: engine,
		table:  table,
		cache:  cache,
		maxTTL: defaultMaxTTL,
		log:    log,
		now:    time.Now,
	}
}

// IssueCredential re-checks the access decision and, if granted, walks the
// backend chain until one mints a credential. The returned credential is
// scoped to exactly the requested resource and action, with expiry clamped to
// min(requested duration, policy TTL, issuer max TTL).
func (i *Issuer) IssueCredential(ctx context.Context, req *AccessRequest, duration time.Duration) (*Credential, error) {
	decision := i.engine.CheckAccess(ctx, req)
	if !decision.Granted {
		i.log.Info("credential issuance refused",
			"user_id", req.UserID,
			"resource_type", string(req.ResourceType),
			"resource_id", req.ResourceID,
			"action", string(req.Action),
			"reason", decision.Reason)
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
	}

	ttl := i.clampTTL(duration, decision.Policy)
	now := i.now()
	expiresAt := now.Add(ttl)

	var cred *Credential
	var err error

	if req.ResourceType == ResourceBucket && i.cloud != nil {
		cred, err = i.issueCloud(ctx, req, decision, ttl, expiresAt)
		if err != nil {
			i.log.Error("cloud credential backend failed, falling back",
				"user_id", req.UserID, "resource_id", req.ResourceID, "error", err)
			cred = nil
		}
	}

	if cred == nil && req.ResourceType == ResourceSecret && i.broker != nil {
		cred, err = i.issueBroker(ctx, req, decision, ttl, expiresAt)
		if err != nil {
			i.log.Error("secrets broker backend failed, falling back",
				"user_id", req.UserID, "resource_id", req.ResourceID, "error", err)
			cred = nil
		}
	}

	if cred == nil {
		cred, err = i.issueSigned(req, decision, expiresAt, now)
		if err != nil {
			i.log.Error("signed token backend failed, falling back",
				"user_id", req.UserID, "resource_id", req.ResourceID, "error", err)
			cred = i.issueUnsigned(req, decision, expiresAt)
		}
	}

	if cred == nil {
		return nil, ErrAllBackendsFailed
	}

	i.cache.Put(cred)
	i.log.Info("credential issued",
		"user_id", req.UserID,
		"resource_type", string(req.ResourceType),
		"resource_id", req.ResourceID,
		"action", string(req.Action),
		"provider", string(cred.Provider),
		"policy", decision.Policy,
		"expires_at", cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// clampTTL bounds the requested duration by the granting policy's TTL (if
// any) and the issuer-wide max.
func (i *Issuer) clampTTL(requested time.Duration, policyName string) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = defaultIssuerTTL
	}
	if ttl > i.maxTTL {
		ttl = i.maxTTL
	}
	if p := i.table.Get(policyName); p != nil && p.TTLSeconds > 0 {
		if pol := time.Duration(p.TTLSeconds) * time.Second; ttl > pol {
			ttl = pol
		}
	}
	return ttl
}

func (i *Issuer) issueCloud(ctx context.Context, req *AccessRequest, decision AccessDecision, ttl time.Duration, expiresAt time.Time) (*Credential, error) {
	doc, err := bucketPolicyDocument(req.ResourceID, req.Action)
	if err != nil {
		return nil, err
	}
	sessionName := sanitizeSessionName("grantor-" + req.UserID + "-" + shortID())
	var cc *CloudCredential
	err = i.withRetry(ctx, func() error {
		var callErr error
		cc, callErr = i.cloud.AssumeScopedRole(ctx, doc, sessionName, ttl)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	exp := cc.ExpiresAt
	if exp.IsZero() || exp.After(expiresAt) {
		exp = expiresAt
	}
	return &Credential{
		ID:             shortID(),
		Provider:       ProviderCloudSTS,
		AccessKeyID:    cc.AccessKeyID,
		SecretKey:      cc.SecretKey,
		SessionToken:   cc.SessionToken,
		ResourceID:     req.ResourceID,
		AllowedActions: []Action{req.Action},
		ExpiresAt:      exp,
		Metadata:       map[string]string{"policy": decision.Policy, "session_name": sessionName},
	}, nil
}

func (i *Issuer) issueBroker(ctx context.Context, req *AccessRequest, decision AccessDecision, ttl time.Duration, expiresAt time.Time) (*Credential, error) {
	policyName := brokerPolicyPrefix + shortID()
	rules := BrokerPolicyRules(req.ResourceID, req.Action)

	policies := []string{policyName}
	if err := i.withRetry(ctx, func() error {
		return i.broker.CreatePolicy(ctx, policyName, rules)
	}); err != nil {
		if IsTransient(err) {
			return nil, err
		}
		// broker lacks policy-creation capability: degrade to its default
		// policy rather than losing the broker entirely
		i.log.Error("broker policy creation unavailable, issuing degraded token",
			"user_id", req.UserID, "resource_id", req.ResourceID, "error", err)
		policies = []string{"default"}
	}

	var tok *BrokerToken
	if err := i.withRetry(ctx, func() error {
		var callErr error
		tok, callErr = i.broker.CreateToken(ctx, policies, ttl, ttl)
		return callErr
	}); err != nil {
		return nil, err
	}
	exp := tok.ExpiresAt
	if exp.IsZero() || exp.After(expiresAt) {
		exp = expiresAt
	}
	return &Credential{
		ID:             shortID(),
		Provider:       ProviderSecretsBroker,
		Token:          tok.Token,
		ResourceID:     req.ResourceID,
		AllowedActions: []Action{req.Action},
		ExpiresAt:      exp,
		Metadata:       map[string]string{"policy": decision.Policy, "broker_policy": policies[0]},
	}, nil
}

func (i *Issuer) issueSigned(req *AccessRequest, decision AccessDecision, expiresAt, now time.Time) (*Credential, error) {
	if i.signer == nil {
		return nil, fmt.Errorf("no token signer configured")
	}
	token, err := i.signer.Sign(NewTokenClaims(req, expiresAt, now))
	if err != nil {
		return nil, err
	}
	return &Credential{
		ID:             shortID(),
		Provider:       ProviderSignedToken,
		Token:          token,
		ResourceID:     req.ResourceID,
		AllowedActions: []Action{req.Action},
		ExpiresAt:      expiresAt,
		Metadata:       map[string]string{"policy": decision.Policy},
	}, nil
}

// issueUnsigned is the last rung of the chain: an opaque identifier with no
// cryptographic binding. Explicitly weaker; flagged to operators via the
// error-level log.
func (i *Issuer) issueUnsigned(req *AccessRequest, decision AccessDecision, expiresAt time.Time) *Credential {
	i.log.Error("issuing unsigned fallback credential, configure a signing secret",
		"user_id", req.UserID,
		"resource_type", string(req.ResourceType),
		"resource_id", req.ResourceID,
		"action", string(req.Action))
	return &Credential{
		ID:             shortID(),
		Provider:       ProviderSignedTokenFallback,
		Token:          unsignedTokenPrefix + uuid.NewString(),
		ResourceID:     req.ResourceID,
		AllowedActions: []Action{req.Action},
		ExpiresAt:      expiresAt,
		Metadata:       map[string]string{"policy": decision.Policy},
	}
}

// withRetry retries fn with doubling backoff on transient failures only.
// Authorization denials never reach here; permanent backend errors return
// immediately.
func (i *Issuer) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := retryBackoffBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// bucketPolicyDocument maps the granted action onto the cloud backend's
// native permission vocabulary and scopes it to the one object.
func bucketPolicyDocument(resourceID string, action Action) (string, error) {
	perms, err := cloudPermissions(action)
	if err != nil {
		return "", err
	}
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":   "Allow",
			"Action":   perms,
			"Resource": []string{"arn:aws:s3:::" + resourceID},
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal policy document: %w", err)
	}
	return string(b), nil
}

func cloudPermissions(action Action) ([]string, error) {
	switch action {
	case "read", "download":
		return []string{"s3:GetObject", "s3:GetObjectVersion"}, nil
	case "write", "upload":
		return []string{"s3:PutObject", "s3:AbortMultipartUpload"}, nil
	case "delete":
		return []string{"s3:DeleteObject"}, nil
	case "list":
		return []string{"s3:ListBucket"}, nil
	default:
		return nil, fmt.Errorf("no cloud permission mapping for action %q", action)
	}
}

func sanitizeSessionName(name string) string {
	// STS session names allow [\w+=,.@-]; replace anything else
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '+' || r == '=' || r == ',' || r == '.' || r == '@' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

func shortID() string {
	return uuid.NewString()[:8]
}
