package grantor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgecloud/grantor/logger"
)

// PresignGenerator issues time-bounded URLs for bucket objects instead of a
// credential bundle. Only bucket resources are supported: for any other
// resource type the result is nil with no error, which callers must read as
// "not applicable", distinct from a denial.
type PresignGenerator struct {
	engine    *Engine
	table     *PolicyTable
	presigner Presigner
	maxTTL    time.Duration
	log       logger.Logger
	now       func() time.Time
}

func NewPresignGenerator(engine *Engine, table *PolicyTable, presigner Presigner, log logger.Logger) *PresignGenerator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &PresignGenerator{
		engine:    engine,
		table:     table,
		presigner: presigner,
		maxTTL:    defaultMaxTTL,
		log:       log,
		now:       time.Now,
	}
}

// IssuePresignedURL re-checks the access decision and requests a signed URL
// from the backend. The resource id is split into bucket and object key on
// the first '/'.
func (g *PresignGenerator) IssuePresignedURL(ctx context.Context, req *AccessRequest, duration time.Duration, method string) (*PresignedURL, error) {
	if req.ResourceType != ResourceBucket {
		return nil, nil
	}
	if g.presigner == nil {
		return nil, fmt.Errorf("no presigned-url backend configured")
	}

	decision := g.engine.CheckAccess(ctx, req)
	if !decision.Granted {
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
	}

	operation, err := presignOperation(method)
	if err != nil {
		return nil, err
	}

	bucket, key, found := strings.Cut(req.ResourceID, "/")
	if !found || bucket == "" || key == "" {
		return nil, fmt.Errorf("resource id %q is not a bucket/key path", req.ResourceID)
	}

	ttl := duration
	if ttl <= 0 {
		ttl = defaultIssuerTTL
	}
	if ttl > g.maxTTL {
		ttl = g.maxTTL
	}
	if p := g.table.Get(decision.Policy); p != nil && p.TTLSeconds > 0 {
		if pol := time.Duration(p.TTLSeconds) * time.Second; ttl > pol {
			ttl = pol
		}
	}

	url, err := g.presigner.Presign(ctx, bucket, key, operation, ttl)
	if err != nil {
		g.log.Error("presign failed",
			"user_id", req.UserID, "resource_id", req.ResourceID, "method", method, "error", err)
		return nil, err
	}

	g.log.Info("presigned url issued",
		"user_id", req.UserID,
		"resource_id", req.ResourceID,
		"action", string(req.Action),
		"method", method,
		"policy", decision.Policy)
	return &PresignedURL{
		URL:        url,
		Method:     strings.ToUpper(method),
		ExpiresAt:  g.now().Add(ttl),
		ResourceID: req.ResourceID,
	}, nil
}

func presignOperation(method string) (string, error) {
	switch strings.ToUpper(method) {
	case "GET":
		return PresignGetObject, nil
	case "PUT":
		return PresignPutObject, nil
	case "DELETE":
		return PresignDeleteObject, nil
	default:
		return "", fmt.Errorf("unsupported http method %q for presigning", method)
	}
}
