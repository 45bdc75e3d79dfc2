package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

func newRBACFixture(t *testing.T) (*RBACService, *fakeUserRepo, *fakeRBACPolicyRepo, *cache.MemoryStore) {
	t.Helper()
	users := newFakeUserRepo()
	policies := &fakeRBACPolicyRepo{}
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewRBACService(users, policies, store), users, policies, store
}

func membership(userID, orgID, role string) *domain.OrgMembership {
	return &domain.OrgMembership{UserID: userID, OrgID: orgID, Role: role, IsActive: true}
}

func TestRoleLevelOrdering(t *testing.T) {
	assert.Equal(t, 4, domain.RoleLevel(domain.RoleSuperAdmin))
	assert.Equal(t, 3, domain.RoleLevel(domain.RoleOwner))
	assert.Equal(t, 2, domain.RoleLevel(domain.RoleAdmin))
	assert.Equal(t, 1, domain.RoleLevel(domain.RoleMember))
	assert.Equal(t, 0, domain.RoleLevel(domain.RoleViewer))
	assert.Equal(t, -1, domain.RoleLevel("intern"))
}

func TestHasHigherRole(t *testing.T) {
	assert.True(t, HasHigherRole(domain.RoleOwner, domain.RoleAdmin))
	assert.True(t, HasHigherRole(domain.RoleAdmin, domain.RoleAdmin))
	assert.False(t, HasHigherRole(domain.RoleMember, domain.RoleAdmin))
	assert.False(t, HasHigherRole("intern", domain.RoleViewer), "unknown roles rank below every known role")
	assert.True(t, HasHigherRole(domain.RoleViewer, "intern"))
}

func TestMatchPermission(t *testing.T) {
	cases := []struct {
		pattern    string
		permission string
		want       bool
	}{
		{"*", "anything:at:all", true},
		{"org:read", "org:read", true},
		{"org:read", "org:update", false},
		{"users:*", "users:read:profile", true},
		{"users:*", "org:read", false},
		{"users:read:*", "users:read:profile", true},
		{"users:read:*", "users:write:profile", false},
		{"*:read", "org:read", true},
		{"*:read", "org:update", false},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "ab", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchPermission(tc.pattern, tc.permission),
			"pattern %q against %q", tc.pattern, tc.permission)
	}
}

func TestRBACService_StaticRoleGrants(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("owner-1", "org-1", domain.RoleOwner)))
	require.NoError(t, users.SetMembership(ctx, membership("viewer-1", "org-1", domain.RoleViewer)))

	allowed, err := svc.CheckPermission(ctx, "owner-1", "org-1", "org:delete", nil)
	require.NoError(t, err)
	assert.True(t, allowed, "owner holds the wildcard grant")

	allowed, err = svc.CheckPermission(ctx, "viewer-1", "org-1", "org:delete", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = svc.CheckPermission(ctx, "viewer-1", "org-1", "org:read", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRBACService_SuperAdminBypassesMatching(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("root", "org-1", domain.RoleSuperAdmin)))

	allowed, err := svc.CheckPermission(ctx, "root", "org-1", "absolutely:anything", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRBACService_NoMembershipDenies(t *testing.T) {
	svc, _, _, _ := newRBACFixture(t)

	allowed, err := svc.CheckPermission(context.Background(), "stranger", "org-1", "org:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_InactiveMembershipDenies(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	m := membership("user-1", "org-1", domain.RoleOwner)
	m.IsActive = false
	require.NoError(t, users.SetMembership(ctx, m))

	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "org:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_BackendFailureFailsClosed(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	users.forcedErr = errStoreDown

	allowed, err := svc.CheckPermission(context.Background(), "user-1", "org-1", "org:read", nil)
	assert.False(t, allowed)
	assert.ErrorIs(t, err, janerr.ErrAuthzUnavailable)
}

func TestRBACService_DynamicPolicyGrant(t *testing.T) {
	svc, users, policies, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleMember)))
	policies.policies = append(policies.policies, &domain.RBACPolicy{
		ID:          "p1",
		OrgID:       "org-1",
		Role:        domain.RoleMember,
		Permissions: []string{"reports:*"},
		IsEnabled:   true,
	})

	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "reports:export", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "billing:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_DisabledPolicyIgnored(t *testing.T) {
	svc, users, policies, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleViewer)))
	policies.policies = append(policies.policies, &domain.RBACPolicy{
		ID:          "p1",
		OrgID:       "org-1",
		Role:        domain.RoleViewer,
		Permissions: []string{"reports:*"},
		IsEnabled:   false,
	})

	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_PolicyConditionsAreANDed(t *testing.T) {
	svc, users, policies, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleViewer)))
	policies.policies = append(policies.policies, &domain.RBACPolicy{
		ID:          "p1",
		OrgID:       "org-1",
		Role:        domain.RoleViewer,
		Permissions: []string{"reports:read"},
		Conditions: &domain.RBACPolicyConditions{
			UserID:     "user-1",
			ResourceID: "report-42",
			Attributes: map[string]string{"department": "finance"},
		},
		IsEnabled: true,
	})

	// All conditions satisfied.
	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", &CheckContext{
		ResourceID: "report-42",
		Attributes: map[string]string{"department": "finance"},
	})
	require.NoError(t, err)
	assert.True(t, allowed)

	// One condition missing denies.
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", &CheckContext{
		ResourceID: "report-42",
	})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_CachedDecisionsAreContextScoped(t *testing.T) {
	svc, users, policies, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleViewer)))
	policies.policies = append(policies.policies, &domain.RBACPolicy{
		ID:          "p1",
		OrgID:       "org-1",
		Role:        domain.RoleViewer,
		Permissions: []string{"reports:read"},
		Conditions:  &domain.RBACPolicyConditions{Attributes: map[string]string{"department": "finance"}},
		IsEnabled:   true,
	})

	finance := &CheckContext{Attributes: map[string]string{"department": "finance"}}
	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", finance)
	require.NoError(t, err)
	assert.True(t, allowed)

	// The cached allow above must not answer a check without the attribute.
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Or with a different attribute value.
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", &CheckContext{
		Attributes: map[string]string{"department": "sales"},
	})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_TimeWindowCondition(t *testing.T) {
	svc, users, policies, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleViewer)))
	past := time.Now().Add(-time.Hour)
	soon := time.Now().Add(time.Hour)
	policies.policies = append(policies.policies, &domain.RBACPolicy{
		ID:          "p1",
		OrgID:       "org-1",
		Role:        domain.RoleViewer,
		Permissions: []string{"reports:read"},
		Conditions:  &domain.RBACPolicyConditions{TimeStart: &past, TimeEnd: &soon},
		IsEnabled:   true,
	})

	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	svc.now = func() time.Time { return soon.Add(time.Minute) }
	require.NoError(t, svc.store.DeletePrefix(ctx, "perms:"))
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "reports:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_SetRoleInvalidatesCachedChecks(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleViewer)))

	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "org:update", nil)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Promotion must be visible on the very next check, not after cache TTL.
	require.NoError(t, svc.SetRole(ctx, "user-1", "org-1", domain.RoleAdmin))
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "org:update", nil)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRBACService_SetRoleRejectsUnknownRole(t *testing.T) {
	svc, _, _, _ := newRBACFixture(t)
	assert.Error(t, svc.SetRole(context.Background(), "user-1", "org-1", "intern"))
}

func TestRBACService_SetRoleFailsWhenInvalidationFails(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewRBACService(users, &fakeRBACPolicyRepo{}, failingStore{})

	err := svc.SetRole(context.Background(), "user-1", "org-1", domain.RoleAdmin)
	assert.Error(t, err, "a role change whose cache invalidation failed must not report success")
}

func TestRBACService_RevokeMembershipTakesEffectImmediately(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("user-1", "org-1", domain.RoleOwner)))
	allowed, err := svc.CheckPermission(ctx, "user-1", "org-1", "org:read", nil)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, svc.RevokeMembership(ctx, "user-1", "org-1"))
	allowed, err = svc.CheckPermission(ctx, "user-1", "org-1", "org:read", nil)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRBACService_EnforcePermission(t *testing.T) {
	svc, users, _, _ := newRBACFixture(t)
	ctx := context.Background()

	require.NoError(t, users.SetMembership(ctx, membership("viewer-1", "org-1", domain.RoleViewer)))

	assert.NoError(t, svc.EnforcePermission(ctx, "viewer-1", "org-1", "org:read", nil))

	err := svc.EnforcePermission(ctx, "viewer-1", "org-1", "org:delete", nil)
	assert.ErrorIs(t, err, janerr.ErrPermissionDenied)

	users.forcedErr = errStoreDown
	err = svc.EnforcePermission(ctx, "viewer-1", "org-1", "users:read:profile", nil)
	assert.ErrorIs(t, err, janerr.ErrAuthzUnavailable)
}
