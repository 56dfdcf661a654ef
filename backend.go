package grantor

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by the issuance and validation paths.
var (
	// ErrAccessDenied is returned when issuance is attempted for a request
	// the engine does not grant.
	ErrAccessDenied = errors.New("grantor: access denied")
	// ErrAllBackendsFailed is returned only when every backend in the
	// fallback chain, including the unsigned placeholder, failed.
	ErrAllBackendsFailed = errors.New("grantor: all credential backends failed")
)

// TransientError marks a backend failure as retryable (network flap, 5xx,
// throttling). Backend implementations wrap such failures so the issuer can
// retry with bounded backoff; anything else is treated as permanent.
type TransientError struct {
	Err error
}

func (t *TransientError) Error() string { return t.Err.Error() }
func (t *TransientError) Unwrap() error { return t.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CloudCredential is the temporary key triple handed back by the cloud
// temporary-credential backend.
type CloudCredential struct {
	AccessKeyID  string
	SecretKey    string
	SessionToken string
	ExpiresAt    time.Time
}

// CloudCredentials is the capability interface over a cloud
// temporary-credential service (STS-style). A nil value in ServiceConfig
// means the capability is unavailable and the issuer skips it.
type CloudCredentials interface {
	AssumeScopedRole(ctx context.Context, policyDocument, sessionName string, duration time.Duration) (*CloudCredential, error)
}

// BrokerToken is a token minted by the dynamic-secrets broker.
type BrokerToken struct {
	Token     string
	ExpiresAt time.Time
}

// BrokerTokenStatus is the broker's view of an existing token.
type BrokerTokenStatus struct {
	Valid     bool
	ExpiresAt time.Time
}

// SecretsBroker is the capability interface over a dynamic-secrets broker.
// CreatePolicy installs a narrow single-resource policy; CreateToken mints a
// token bound to named policies with both TTL and explicit max TTL.
type SecretsBroker interface {
	CreatePolicy(ctx context.Context, name, rules string) error
	CreateToken(ctx context.Context, policies []string, ttl, maxTTL time.Duration) (*BrokerToken, error)
	LookupToken(ctx context.Context, token string) (*BrokerTokenStatus, error)
	RevokeToken(ctx context.Context, token string) error
}

// TokenSigner signs and verifies the local signed-token claim set.
type TokenSigner interface {
	Sign(claims *TokenClaims) (string, error)
	Verify(token string) (*TokenClaims, error)
}

// Presign operations understood by the presigned-URL backend.
const (
	PresignGetObject    = "get-object"
	PresignPutObject    = "put-object"
	PresignDeleteObject = "delete-object"
)

// Presigner is the capability interface over the presigned-URL backend.
type Presigner interface {
	Presign(ctx context.Context, bucket, key, operation string, ttl time.Duration) (string, error)
}
