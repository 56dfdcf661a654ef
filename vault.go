package grantor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultBroker implements SecretsBroker against HashiCorp Vault's token
// backend: a narrow policy is written per issuance and a token minted with
// TTL and explicit max TTL bound to it.
type VaultBroker struct {
	client *api.Client
}

func NewVaultBroker(client *api.Client) *VaultBroker {
	return &VaultBroker{client: client}
}

func (b *VaultBroker) CreatePolicy(ctx context.Context, name, rules string) error {
	if err := b.client.Sys().PutPolicyWithContext(ctx, name, rules); err != nil {
		return wrapVaultErr("create policy", err)
	}
	return nil
}

func (b *VaultBroker) CreateToken(ctx context.Context, policies []string, ttl, maxTTL time.Duration) (*BrokerToken, error) {
	secret, err := b.client.Auth().Token().CreateWithContext(ctx, &api.TokenCreateRequest{
		Policies:       policies,
		TTL:            ttl.String(),
		ExplicitMaxTTL: maxTTL.String(),
		Renewable:      boolPtr(false),
	})
	if err != nil {
		return nil, wrapVaultErr("create token", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return nil, fmt.Errorf("create token: broker returned no token")
	}
	lease := time.Duration(secret.Auth.LeaseDuration) * time.Second
	if lease <= 0 || lease > ttl {
		lease = ttl
	}
	return &BrokerToken{
		Token:     secret.Auth.ClientToken,
		ExpiresAt: time.Now().Add(lease),
	}, nil
}

func (b *VaultBroker) LookupToken(ctx context.Context, token string) (*BrokerTokenStatus, error) {
	secret, err := b.client.Auth().Token().LookupWithContext(ctx, token)
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && (respErr.StatusCode == http.StatusForbidden || respErr.StatusCode == http.StatusBadRequest) {
			// unknown or expired token, not a broker outage
			return &BrokerTokenStatus{Valid: false}, nil
		}
		return nil, wrapVaultErr("lookup token", err)
	}
	if secret == nil || secret.Data == nil {
		return &BrokerTokenStatus{Valid: false}, nil
	}
	status := &BrokerTokenStatus{Valid: true}
	if raw, ok := secret.Data["ttl"]; ok {
		if ttl, err := parseVaultSeconds(raw); err == nil {
			if ttl <= 0 {
				status.Valid = false
			}
			status.ExpiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
		}
	}
	return status, nil
}

func (b *VaultBroker) RevokeToken(ctx context.Context, token string) error {
	if err := b.client.Auth().Token().RevokeOrphanWithContext(ctx, token); err != nil {
		return wrapVaultErr("revoke token", err)
	}
	return nil
}

// BrokerPolicyRules renders a single-path capability grant in Vault's HCL
// policy language.
func BrokerPolicyRules(resourceID string, action Action) string {
	capability := "read"
	switch action {
	case "write", "update", "create":
		capability = "create\", \"update"
	case "delete":
		capability = "delete"
	}
	return fmt.Sprintf("path %q {\n  capabilities = [\"%s\"]\n}\n", resourceID, capability)
}

func wrapVaultErr(op string, err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%s: %w", op, err)
	}
	// network failures and 5xx responses are retryable
	return Transient(fmt.Errorf("%s: %w", op, err))
}

func parseVaultSeconds(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case interface{ Int64() (int64, error) }: // json.Number
		return v.Int64()
	default:
		return 0, fmt.Errorf("unexpected ttl type %T", raw)
	}
}

func boolPtr(b bool) *bool { return &b }
