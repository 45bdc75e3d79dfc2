package domain

import "time"

// PolicyEffect is what a matching policy grants or withholds.
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// PolicyConditions are evaluated against the request context after the
// action and resource already matched. All set conditions must hold.
type PolicyConditions struct {
	MFARequired bool              `bson:"mfa_required,omitempty" json:"mfa_required,omitempty"`
	IPRange     string            `bson:"ip_range,omitempty" json:"ip_range,omitempty"`
	Attributes  map[string]string `bson:"attributes,omitempty" json:"attributes,omitempty"`
}

// PolicyRule narrows a policy with glob patterns over the request triple.
// Unset fields match anything.
type PolicyRule struct {
	Subject  string `bson:"subject,omitempty" json:"subject,omitempty"`
	Action   string `bson:"action,omitempty" json:"action,omitempty"`
	Resource string `bson:"resource,omitempty" json:"resource,omitempty"`
}

// PolicyRules carry explicit allow/deny sub-rules. Deny wins: a request
// matching any deny rule is refused before the allow rules are consulted.
type PolicyRules struct {
	Allow []PolicyRule `bson:"allow,omitempty" json:"allow,omitempty"`
	Deny  []PolicyRule `bson:"deny,omitempty" json:"deny,omitempty"`
}

// Policy is a tenant-scoped access rule. Resources are glob patterns where
// '*' matches any sequence and '?' matches a single character.
type Policy struct {
	ID         string            `bson:"_id,omitempty" json:"id"`
	TenantID   string            `bson:"tenant_id" json:"tenant_id"`
	Name       string            `bson:"name" json:"name"`
	Effect     PolicyEffect      `bson:"effect" json:"effect"`
	Actions    []string          `bson:"actions" json:"actions"`
	Resources  []string          `bson:"resources" json:"resources"`
	Conditions *PolicyConditions `bson:"conditions,omitempty" json:"conditions,omitempty"`
	Rules      *PolicyRules      `bson:"rules,omitempty" json:"rules,omitempty"`
	Priority   int               `bson:"priority" json:"priority"`
	// WASMModule is the policy compiled for sidecar evaluation; nil when the
	// opa toolchain was unavailable at write time.
	WASMModule []byte `bson:"wasm_module,omitempty" json:"-"`
	IsEnabled  bool              `bson:"is_enabled" json:"is_enabled"`
	CreatedAt  time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at" json:"updated_at"`
}

// AccessRequest is one authorization question put to the policy engine.
type AccessRequest struct {
	Subject  string            `json:"subject"`
	Action   string            `json:"action"`
	Resource string            `json:"resource"`
	TenantID string            `json:"tenant_id"`
	Context  map[string]string `json:"context,omitempty"`
}

// Decision is the engine's answer. Reason is for audit logs, not callers.
type Decision struct {
	Allowed         bool     `json:"allowed"`
	PolicyID        string   `json:"policy_id,omitempty"`
	MatchedPolicies []string `json:"matched_policies,omitempty"`
	DeniedBy        string   `json:"denied_by,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Cached          bool     `json:"-"`
}
