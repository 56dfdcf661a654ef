package grantor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/forgecloud/grantor/logger"
)

// Service is the single entry point consumed by the surrounding HTTP layer.
// It is constructed once at process start and passed by reference; there is
// no ambient global state. The pure decision engine sits behind a short-TTL
// decision cache, issuance and presigning run against the configured
// backends, and every security-relevant outcome is audited asynchronously.
type Service struct {
	table     *PolicyTable
	engine    *Engine
	issuer    *Issuer
	presign   *PresignGenerator
	validator *TokenValidator
	cache     *CredentialCache
	sweeper   *ExpirySweeper

	decisions   *ristretto.Cache
	decisionTTL time.Duration

	audit     AuditStore
	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	closeOnce sync.Once

	log logger.Logger
	now func() time.Time
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	log           logger.Logger
	entitlements  EntitlementChecker
	rateLimiter   RateLimiter
	cloud         CloudCredentials
	broker        SecretsBroker
	signer        TokenSigner
	presigner     Presigner
	audit         AuditStore
	maxTTL        time.Duration
	sweepInterval time.Duration
	cacheCapacity int
	decisionTTL   time.Duration
	now           func() time.Time
}

func WithLogger(l logger.Logger) ServiceOption {
	return func(c *serviceConfig) { c.log = l }
}

func WithEntitlements(e EntitlementChecker) ServiceOption {
	return func(c *serviceConfig) { c.entitlements = e }
}

func WithRateLimiter(r RateLimiter) ServiceOption {
	return func(c *serviceConfig) { c.rateLimiter = r }
}

// WithCloudCredentials installs the cloud temporary-credential backend used
// for bucket resources.
func WithCloudCredentials(cc CloudCredentials) ServiceOption {
	return func(c *serviceConfig) { c.cloud = cc }
}

// WithSecretsBroker installs the dynamic-secrets broker used for secret
// resources.
func WithSecretsBroker(b SecretsBroker) ServiceOption {
	return func(c *serviceConfig) { c.broker = b }
}

// WithTokenSigner installs the local signed-token backend. Without it the
// issuer degrades to unsigned opaque credentials.
func WithTokenSigner(s TokenSigner) ServiceOption {
	return func(c *serviceConfig) { c.signer = s }
}

func WithPresigner(p Presigner) ServiceOption {
	return func(c *serviceConfig) { c.presigner = p }
}

func WithAuditStore(a AuditStore) ServiceOption {
	return func(c *serviceConfig) { c.audit = a }
}

// WithMaxTTL caps every issued credential's lifetime regardless of what the
// caller requests.
func WithMaxTTL(d time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.maxTTL = d }
}

func WithSweepInterval(d time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.sweepInterval = d }
}

func WithCacheCapacity(n int) ServiceOption {
	return func(c *serviceConfig) { c.cacheCapacity = n }
}

// WithDecisionCacheTTL sets how long identical decisions are served from
// cache. Zero disables decision caching.
func WithDecisionCacheTTL(d time.Duration) ServiceOption {
	return func(c *serviceConfig) { c.decisionTTL = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(c *serviceConfig) { c.now = now }
}

const defaultDecisionCacheTTL = time.Second

// NewService builds the service around an immutable policy table.
func NewService(table *PolicyTable, opts ...ServiceOption) (*Service, error) {
	cfg := serviceConfig{
		log:         logger.NewNullLogger(),
		audit:       NewMemoryAuditStore(),
		maxTTL:      defaultMaxTTL,
		decisionTTL: defaultDecisionCacheTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	conditions := NewConditionEvaluator(cfg.entitlements, cfg.rateLimiter, cfg.log)
	engine := NewEngine(table, conditions, cfg.log)
	cache := NewCredentialCache(cfg.cacheCapacity)

	issuer := NewIssuer(engine, table, cache, cfg.log)
	issuer.cloud = cfg.cloud
	issuer.broker = cfg.broker
	issuer.signer = cfg.signer
	issuer.maxTTL = cfg.maxTTL
	issuer.now = cfg.now

	presign := NewPresignGenerator(engine, table, cfg.presigner, cfg.log)
	presign.maxTTL = cfg.maxTTL
	presign.now = cfg.now

	validator := NewTokenValidator(cfg.signer, cfg.broker, cache, cfg.log)
	validator.now = cfg.now

	s := &Service{
		table:       table,
		engine:      engine,
		issuer:      issuer,
		presign:     presign,
		validator:   validator,
		cache:       cache,
		decisionTTL: cfg.decisionTTL,
		audit:       cfg.audit,
		log:         cfg.log,
		now:         cfg.now,
	}

	if cfg.decisionTTL > 0 {
		decisions, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 100_000,
			MaxCost:     10_000,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("init decision cache: %w", err)
		}
		s.decisions = decisions
	}

	s.sweeper = NewExpirySweeper(cache, cfg.sweepInterval, cfg.log)
	s.sweeper.Start()

	s.auditCh = make(chan AuditEntry, 1024)
	s.auditWG.Add(1)
	go func() {
		defer s.auditWG.Done()
		bg := context.Background()
		for entry := range s.auditCh {
			if err := s.audit.LogEvent(bg, &entry); err != nil {
				s.log.Error("audit write failed", "kind", string(entry.Kind), "error", err)
			}
		}
	}()

	return s, nil
}

// CheckAccess answers the access question for one request. Identical
// requests within the decision-cache TTL are served from cache without
// re-evaluating conditions.
func (s *Service) CheckAccess(ctx context.Context, req *AccessRequest) AccessDecision {
	key := decisionKey(req)
	if s.decisions != nil {
		if v, ok := s.decisions.Get(key); ok {
			if dec, ok := v.(AccessDecision); ok {
				return dec
			}
		}
	}
	dec := s.engine.CheckAccess(ctx, req)
	if s.decisions != nil {
		s.decisions.SetWithTTL(key, dec, 1, s.decisionTTL)
	}
	s.auditAsync(AuditEntry{
		Kind:         AuditDecision,
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		Granted:      dec.Granted,
		Reason:       dec.Reason,
		Policy:       dec.Policy,
	})
	return dec
}

// CheckAccessExplain bypasses the decision cache and returns the evaluation
// trace alongside the decision.
func (s *Service) CheckAccessExplain(ctx context.Context, req *AccessRequest) (AccessDecision, []string) {
	return s.engine.CheckAccessExplain(ctx, req)
}

// IssueCredential mints a short-lived credential for a granted request.
// Returns ErrAccessDenied (wrapped) when the decision is a deny.
func (s *Service) IssueCredential(ctx context.Context, req *AccessRequest, duration time.Duration) (*Credential, error) {
	cred, err := s.issuer.IssueCredential(ctx, req, duration)
	entry := AuditEntry{
		Kind:         AuditIssuance,
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		Granted:      err == nil,
	}
	if err != nil {
		entry.Reason = err.Error()
	} else {
		entry.Provider = string(cred.Provider)
		entry.Policy = cred.Metadata["policy"]
	}
	s.auditAsync(entry)
	return cred, err
}

// IssuePresignedURL returns a time-bounded URL for a bucket object, nil for
// unsupported resource types, or an error for a denied request.
func (s *Service) IssuePresignedURL(ctx context.Context, req *AccessRequest, duration time.Duration, method string) (*PresignedURL, error) {
	url, err := s.presign.IssuePresignedURL(ctx, req, duration, method)
	if url != nil || err != nil {
		s.auditAsync(AuditEntry{
			Kind:         AuditIssuance,
			UserID:       req.UserID,
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
			Action:       req.Action,
			Granted:      err == nil,
			Provider:     "presigned-url",
			Reason:       errReason(err),
		})
	}
	return url, err
}

// ValidateToken checks an opaque credential string against a target resource
// and action.
func (s *Service) ValidateToken(ctx context.Context, token, resourceID string, action Action) bool {
	ok := s.validator.Validate(ctx, token, resourceID, action)
	if !ok {
		s.auditAsync(AuditEntry{
			Kind:       AuditValidation,
			ResourceID: resourceID,
			Action:     action,
			Granted:    false,
			Reason:     "token validation failed",
		})
	}
	return ok
}

// RevokeToken revokes a credential best-effort ahead of natural expiry.
func (s *Service) RevokeToken(ctx context.Context, token string) bool {
	ok := s.validator.Revoke(ctx, token)
	s.auditAsync(AuditEntry{
		Kind:    AuditRevocation,
		Granted: ok,
	})
	return ok
}

// CredentialCount reports how many credentials are currently cached.
func (s *Service) CredentialCount() int { return s.cache.Len() }

// Close stops the sweeper and drains the audit channel.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.sweeper.Stop()
		close(s.auditCh)
		s.auditWG.Wait()
		if s.decisions != nil {
			s.decisions.Close()
		}
	})
}

func (s *Service) auditAsync(entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = s.now()
	select {
	case s.auditCh <- entry:
	default:
		// audit must never block the request path; drop and count on logs
		s.log.Error("audit channel full, dropping entry", "kind", string(entry.Kind))
	}
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// decisionKey builds a cache key covering every request field that can change
// the outcome, including the caller-supplied context.
func decisionKey(req *AccessRequest) string {
	h := fnv.New64a()
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, req.Context[k])
	}
	return fmt.Sprintf("%s|%s|%s|%s|%x", req.UserID, req.ResourceType, req.ResourceID, req.Action, h.Sum64())
}
