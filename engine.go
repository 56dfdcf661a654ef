package grantor

import (
	"context"
	"fmt"
	"time"

	"github.com/forgecloud/grantor/logger"
)

// Engine answers "may this user perform this action on this resource?". It is
// pure and synchronous: no I/O beyond the condition collaborators, safe to
// call inline on every request.
//
// Evaluation is first-terminal-verdict: candidate policies are scanned in
// table order and the first one that either explicitly denies the action or
// fully grants it (action allowed and all conditions hold) decides the
// outcome. A deny policy ordered after a granting policy is therefore never
// consulted. That ordering is a deliberate compatibility choice and is under
// review as a product decision; do not reorder here.
type Engine struct {
	table      *PolicyTable
	conditions *ConditionEvaluator
	log        logger.Logger
}

func NewEngine(table *PolicyTable, conditions *ConditionEvaluator, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if conditions == nil {
		conditions = NewConditionEvaluator(nil, nil, log)
	}
	return &Engine{table: table, conditions: conditions, log: log}
}

// Reasons returned with decisions. The policy name is interpolated where the
// format carries a %s.
const (
	reasonDeniedByPolicy  = "denied by policy %s"
	reasonGrantedByPolicy = "granted by policy %s"
	reasonNoPolicy        = "no policy allows this action on this resource"
	reasonInternalError   = "access evaluation failed"
)

// CheckAccess evaluates the request against the policy table. It never
// returns an error: internal faults are logged and surfaced as a deny with a
// generic reason so the engine cannot fail open.
func (e *Engine) CheckAccess(ctx context.Context, req *AccessRequest) AccessDecision {
	dec, _ := e.evaluate(ctx, req, false)
	return dec
}

// CheckAccessExplain is CheckAccess plus a per-policy trace of why each
// candidate was or was not terminal.
func (e *Engine) CheckAccessExplain(ctx context.Context, req *AccessRequest) (AccessDecision, []string) {
	return e.evaluate(ctx, req, true)
}

func (e *Engine) evaluate(ctx context.Context, req *AccessRequest, trace bool) (dec AccessDecision, steps []string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic during access evaluation",
				"panic", fmt.Sprint(r),
				"user_id", req.UserID,
				"resource_type", string(req.ResourceType),
				"resource_id", req.ResourceID,
				"action", string(req.Action))
			dec = AccessDecision{Granted: false, Reason: reasonInternalError}
		}
	}()

	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	candidates := e.table.CandidatesFor(req)
	if trace {
		steps = append(steps, fmt.Sprintf("%d candidate policies for %s %q", len(candidates), req.ResourceType, req.ResourceID))
	}

	for _, p := range candidates {
		if p.Denies(req.Action) {
			// explicit deny short-circuits the whole evaluation
			if trace {
				steps = append(steps, fmt.Sprintf("policy=%s explicit deny", p.Name))
			}
			dec = AccessDecision{Granted: false, Reason: fmt.Sprintf(reasonDeniedByPolicy, p.Name), Policy: p.Name}
			e.logDecision(req, dec)
			return dec, steps
		}
		if !p.Allows(req.Action) {
			if trace {
				steps = append(steps, fmt.Sprintf("policy=%s action not covered", p.Name))
			}
			continue
		}
		if failed, ok := e.conditionsHold(ctx, req, p); !ok {
			if trace {
				steps = append(steps, fmt.Sprintf("policy=%s condition %s not satisfied", p.Name, failed))
			}
			continue
		}
		if trace {
			steps = append(steps, fmt.Sprintf("policy=%s grant", p.Name))
		}
		dec = AccessDecision{Granted: true, Reason: fmt.Sprintf(reasonGrantedByPolicy, p.Name), Policy: p.Name}
		e.logDecision(req, dec)
		return dec, steps
	}

	dec = AccessDecision{Granted: false, Reason: reasonNoPolicy}
	e.logDecision(req, dec)
	return dec, steps
}

// conditionsHold evaluates every condition on the policy with AND semantics.
// Returns the name of the first failing condition.
func (e *Engine) conditionsHold(ctx context.Context, req *AccessRequest, p *AccessPolicy) (string, bool) {
	for i := range p.Conditions {
		c := &p.Conditions[i]
		if !e.conditions.Evaluate(ctx, req, c) {
			return c.Name, false
		}
	}
	return "", true
}

func (e *Engine) logDecision(req *AccessRequest, dec AccessDecision) {
	if dec.Granted {
		e.log.Info("access granted",
			"user_id", req.UserID,
			"resource_type", string(req.ResourceType),
			"resource_id", req.ResourceID,
			"action", string(req.Action),
			"policy", dec.Policy)
		return
	}
	e.log.Info("access denied",
		"user_id", req.UserID,
		"resource_type", string(req.ResourceType),
		"resource_id", req.ResourceID,
		"action", string(req.Action),
		"reason", dec.Reason)
}
