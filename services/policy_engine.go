package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/metrics"
)

// PolicyEngine evaluates tenant access policies. Deny overrides allow, the
// default is deny, and decisions are cached under a deterministic request
// hash so identical questions hit the cache.
type PolicyEngine struct {
	policies domain.PolicyRepository
	store    cache.Store
	cacheTTL time.Duration
}

// NewPolicyEngine creates a new PolicyEngine.
func NewPolicyEngine(policies domain.PolicyRepository, store cache.Store) *PolicyEngine {
	return &PolicyEngine{
		policies: policies,
		store:    store,
		cacheTTL: 5 * time.Minute,
	}
}

// RequestHash computes the deterministic cache hash for a request. Context
// keys are sorted so map iteration order never changes the hash.
func RequestHash(req *domain.AccessRequest) string {
	var sb strings.Builder
	sb.WriteString(req.TenantID)
	sb.WriteByte('|')
	sb.WriteString(req.Subject)
	sb.WriteByte('|')
	sb.WriteString(req.Action)
	sb.WriteByte('|')
	sb.WriteString(req.Resource)
	sb.WriteByte('|')

	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(req.Context[k])
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Evaluate answers one access question. Repository failures deny and return
// the error: the engine never defaults open.
func (e *PolicyEngine) Evaluate(ctx context.Context, req *domain.AccessRequest) (*domain.Decision, error) {
	cacheKey := cache.PolicyEvalKey(RequestHash(req))
	if cached, err := e.store.Get(ctx, cacheKey); err == nil {
		var decision domain.Decision
		if jsonErr := json.Unmarshal([]byte(cached), &decision); jsonErr == nil {
			decision.Cached = true
			e.count(&decision)
			return &decision, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Msg("policy cache unavailable")
	}

	policies, err := e.policies.ListByTenant(ctx, req.TenantID)
	if err != nil {
		return &domain.Decision{Allowed: false, Reason: "policy backend unavailable"},
			fmt.Errorf("%w: %w", janerr.ErrAuthzUnavailable, err)
	}

	decision := e.decide(policies, req)

	if payload, jsonErr := json.Marshal(decision); jsonErr == nil {
		if err := e.store.Set(ctx, cacheKey, string(payload), e.cacheTTL); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to cache policy decision")
		}
	}

	e.count(decision)
	return decision, nil
}

func (e *PolicyEngine) count(d *domain.Decision) {
	if metrics.PolicyDecisionsTotal == nil {
		return
	}
	effect := "deny"
	if d.Allowed {
		effect = "allow"
	}
	cached := "false"
	if d.Cached {
		cached = "true"
	}
	metrics.PolicyDecisionsTotal.WithLabelValues(effect, cached).Inc()
}

// decide applies deny-overrides: all matching deny policies are consulted
// before any allow wins. No match means deny.
func (e *PolicyEngine) decide(policies []*domain.Policy, req *domain.AccessRequest) *domain.Decision {
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority > policies[j].Priority
	})

	var allow *domain.Policy
	var matched []string
	for _, p := range policies {
		if !p.IsEnabled {
			continue
		}
		verdict := e.policyMatch(p, req)
		switch verdict {
		case verdictDeny:
			matched = append(matched, p.ID)
			return &domain.Decision{
				Allowed:         false,
				PolicyID:        p.ID,
				DeniedBy:        p.ID,
				MatchedPolicies: matched,
				Reason:          "explicitly denied",
			}
		case verdictAllow:
			matched = append(matched, p.ID)
			if allow == nil {
				allow = p
			}
		}
	}

	if allow != nil {
		return &domain.Decision{
			Allowed:         true,
			PolicyID:        allow.ID,
			MatchedPolicies: matched,
			Reason:          "allowed by policy",
		}
	}
	return &domain.Decision{Allowed: false, Reason: "no policy matched"}
}

type verdict int

const (
	verdictNone verdict = iota
	verdictAllow
	verdictDeny
)

func (e *PolicyEngine) policyMatch(p *domain.Policy, req *domain.AccessRequest) verdict {
	if !actionMatch(p.Actions, req.Action) {
		return verdictNone
	}
	if !resourceMatch(p.Resources, req.Resource) {
		return verdictNone
	}

	// Sub-rules: a matching deny rule short-circuits before allow is
	// consulted.
	if p.Rules != nil {
		for _, r := range p.Rules.Deny {
			if ruleMatch(r, req) {
				return verdictDeny
			}
		}
		if len(p.Rules.Allow) > 0 {
			found := false
			for _, r := range p.Rules.Allow {
				if ruleMatch(r, req) {
					found = true
					break
				}
			}
			if !found {
				return verdictNone
			}
		}
	}

	if !conditionsMatch(p.Conditions, req.Context) {
		return verdictNone
	}

	if p.Effect == domain.EffectDeny {
		return verdictDeny
	}
	return verdictAllow
}

// ruleMatch applies a sub-rule's glob patterns to the request triple. Unset
// fields match anything.
func ruleMatch(r domain.PolicyRule, req *domain.AccessRequest) bool {
	if r.Subject != "" && !MatchResource(r.Subject, req.Subject) {
		return false
	}
	if r.Action != "" && !MatchResource(r.Action, req.Action) {
		return false
	}
	if r.Resource != "" && !MatchResource(r.Resource, req.Resource) {
		return false
	}
	return true
}

func actionMatch(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

func resourceMatch(patterns []string, resource string) bool {
	for _, p := range patterns {
		if MatchResource(p, resource) {
			return true
		}
	}
	return false
}

// MatchResource matches a resource against a pattern where '*' matches any
// sequence and '?' matches exactly one character.
func MatchResource(pattern, resource string) bool {
	// Iterative wildcard match with backtracking over '*'.
	pi, ri := 0, 0
	star, match := -1, 0
	for ri < len(resource) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == resource[ri]):
			pi++
			ri++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			match = ri
			pi++
		case star >= 0:
			pi = star + 1
			match++
			ri = match
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

func conditionsMatch(cond *domain.PolicyConditions, reqCtx map[string]string) bool {
	if cond == nil {
		return true
	}
	if cond.MFARequired && reqCtx["mfa_verified"] != "true" {
		return false
	}
	for key, want := range cond.Attributes {
		if reqCtx[key] != want {
			return false
		}
	}
	if cond.IPRange != "" {
		_, cidr, err := net.ParseCIDR(cond.IPRange)
		if err != nil {
			return false
		}
		ip := net.ParseIP(reqCtx["ip"])
		if ip == nil || !cidr.Contains(ip) {
			return false
		}
	}
	return true
}

// InvalidateDecisions flushes every cached decision. Called synchronously
// after any policy mutation.
func (e *PolicyEngine) InvalidateDecisions(ctx context.Context) error {
	return e.store.DeletePrefix(ctx, cache.PolicyEvalPrefix())
}

// CreatePolicy stores a policy and flushes cached decisions before
// returning.
func (e *PolicyEngine) CreatePolicy(ctx context.Context, p *domain.Policy) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.WASMModule = e.CompileToWASM(ctx, p)
	if err := e.policies.Create(ctx, p); err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	if err := e.InvalidateDecisions(ctx); err != nil {
		return fmt.Errorf("policy created but cache invalidation failed: %w", err)
	}
	return nil
}

// UpdatePolicy updates a policy and flushes cached decisions before
// returning.
func (e *PolicyEngine) UpdatePolicy(ctx context.Context, p *domain.Policy) error {
	p.UpdatedAt = time.Now()
	p.WASMModule = e.CompileToWASM(ctx, p)
	if err := e.policies.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if err := e.InvalidateDecisions(ctx); err != nil {
		return fmt.Errorf("policy updated but cache invalidation failed: %w", err)
	}
	return nil
}

// DeletePolicy removes a policy and flushes cached decisions before
// returning.
func (e *PolicyEngine) DeletePolicy(ctx context.Context, id string) error {
	if err := e.policies.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if err := e.InvalidateDecisions(ctx); err != nil {
		return fmt.Errorf("policy deleted but cache invalidation failed: %w", err)
	}
	return nil
}
