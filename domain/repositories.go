package domain

import (
	"context"
	"time"
)

// UserRepository persists users and their organization memberships.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	GetMembership(ctx context.Context, userID, orgID string) (*OrgMembership, error)
	SetMembership(ctx context.Context, m *OrgMembership) error
}

// ClientRepository persists registered OAuth clients.
type ClientRepository interface {
	Create(ctx context.Context, client *Client) error
	GetByClientID(ctx context.Context, clientID string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
}

// IdPRepository persists per-organization identity provider configuration.
type IdPRepository interface {
	Create(ctx context.Context, idp *IdentityProvider) error
	GetByID(ctx context.Context, id string) (*IdentityProvider, error)
	ListByOrg(ctx context.Context, orgID string) ([]*IdentityProvider, error)
	Update(ctx context.Context, idp *IdentityProvider) error
	Delete(ctx context.Context, id string) error
}

// PolicyRepository persists tenant access policies.
type PolicyRepository interface {
	Create(ctx context.Context, policy *Policy) error
	GetByID(ctx context.Context, id string) (*Policy, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Policy, error)
	Update(ctx context.Context, policy *Policy) error
	Delete(ctx context.Context, id string) error
}

// RBACPolicyRepository persists dynamic role grants.
type RBACPolicyRepository interface {
	Create(ctx context.Context, policy *RBACPolicy) error
	ListByOrgRole(ctx context.Context, orgID, role string) ([]*RBACPolicy, error)
	Update(ctx context.Context, policy *RBACPolicy) error
	Delete(ctx context.Context, id string) error
}

// SessionRepository persists SSO sessions established after federation.
type SessionRepository interface {
	Create(ctx context.Context, session *SSOSession) error
	GetByID(ctx context.Context, id string) (*SSOSession, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// DeviceRepository tracks device profiles and login history for risk scoring.
type DeviceRepository interface {
	GetProfile(ctx context.Context, userID, deviceID string) (*DeviceProfile, error)
	SaveProfile(ctx context.Context, profile *DeviceProfile) error
	GetIPIntel(ctx context.Context, ip string) (*IPIntel, error)
	LastLogin(ctx context.Context, userID string) (*LoginRecord, error)
	RecordLogin(ctx context.Context, rec *LoginRecord) error
}

// AdaptivePolicyRepository persists risk-driven policies.
type AdaptivePolicyRepository interface {
	ListByOrg(ctx context.Context, orgID string) ([]*AdaptivePolicy, error)
}

// Provisioner creates or links local accounts for federated profiles.
// Implementations decide matching rules (email, external ID).
type Provisioner interface {
	Provision(ctx context.Context, orgID string, profile *FederatedProfile) (*User, error)
}

// AnomalyDetector is an optional behavioral scoring hook. Score returns a
// value in 0..1 plus named findings; a nil detector contributes zero.
type AnomalyDetector interface {
	Score(ctx context.Context, rc *RiskContext) (float64, []string, error)
}

// Clock abstracts time for code that must be testable around expiry.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
