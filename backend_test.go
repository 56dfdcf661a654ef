package grantor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// fakeCloud implements CloudCredentials for tests.
type fakeCloud struct {
	err      error
	failures int // fail this many calls before succeeding
	calls    int
	lastDoc  string
}

func (f *fakeCloud) AssumeScopedRole(ctx context.Context, policyDocument, sessionName string, duration time.Duration) (*CloudCredential, error) {
	f.calls++
	f.lastDoc = policyDocument
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, Transient(errors.New("throttled"))
	}
	return &CloudCredential{
		AccessKeyID:  "AKIATEST",
		SecretKey:    "secret",
		SessionToken: "session",
		ExpiresAt:    time.Now().Add(duration),
	}, nil
}

// fakeBroker implements SecretsBroker for tests.
type fakeBroker struct {
	policyErr error
	tokenErr  error
	lookup    map[string]*BrokerTokenStatus
	revoked   []string
	policies  map[string]string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		lookup:   make(map[string]*BrokerTokenStatus),
		policies: make(map[string]string),
	}
}

func (f *fakeBroker) CreatePolicy(ctx context.Context, name, rules string) error {
	if f.policyErr != nil {
		return f.policyErr
	}
	f.policies[name] = rules
	return nil
}

func (f *fakeBroker) CreateToken(ctx context.Context, policies []string, ttl, maxTTL time.Duration) (*BrokerToken, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	tok := fmt.Sprintf("hvs.%s.%d", policies[0], len(f.lookup))
	exp := time.Now().Add(ttl)
	f.lookup[tok] = &BrokerTokenStatus{Valid: true, ExpiresAt: exp}
	return &BrokerToken{Token: tok, ExpiresAt: exp}, nil
}

func (f *fakeBroker) LookupToken(ctx context.Context, token string) (*BrokerTokenStatus, error) {
	if st, ok := f.lookup[token]; ok {
		return st, nil
	}
	return &BrokerTokenStatus{Valid: false}, nil
}

func (f *fakeBroker) RevokeToken(ctx context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	delete(f.lookup, token)
	return nil
}

// fakePresigner implements Presigner for tests.
type fakePresigner struct {
	err  error
	last struct {
		bucket, key, operation string
		ttl                    time.Duration
	}
}

func (f *fakePresigner) Presign(ctx context.Context, bucket, key, operation string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.last.bucket = bucket
	f.last.key = key
	f.last.operation = operation
	f.last.ttl = ttl
	return fmt.Sprintf("https://%s.example.test/%s?op=%s", bucket, key, operation), nil
}

func mustTable(policies []AccessPolicy) *PolicyTable {
	t, err := NewPolicyTable(policies)
	if err != nil {
		panic(err)
	}
	return t
}

func defaultTable() *PolicyTable {
	return mustTable(DefaultPolicies())
}

func ownerAssetRequest(userID, asset string) *AccessRequest {
	return &AccessRequest{
		UserID:       userID,
		ResourceType: ResourceAsset,
		ResourceID:   "user/" + userID + "/assets/" + asset,
		Action:       "read",
		Context:      map[string]any{},
	}
}
