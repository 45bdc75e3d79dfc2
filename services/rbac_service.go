package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/audit"
	"github.com/janua-io/janua/internal/metrics"
)

// Static permission grants per built-in role. super_admin bypasses matching
// entirely; dynamic grants come from RBAC policies on top of these.
var rolePermissions = map[string][]string{
	domain.RoleOwner:  {"*"},
	domain.RoleAdmin:  {"org:read", "org:update", "users:*", "clients:*", "policies:*"},
	domain.RoleMember: {"org:read", "users:read:*", "profile:*"},
	domain.RoleViewer: {"org:read", "users:read:profile"},
}

// RBACService answers permission questions for organization members.
// Decisions are cached per (user, org, permission, check context); role
// changes invalidate the user's cached decisions before returning.
type RBACService struct {
	users    domain.UserRepository
	policies domain.RBACPolicyRepository
	store    cache.Store
	cacheTTL time.Duration
	now      func() time.Time
}

// NewRBACService creates a new RBACService.
func NewRBACService(users domain.UserRepository, policies domain.RBACPolicyRepository, store cache.Store) *RBACService {
	return &RBACService{
		users:    users,
		policies: policies,
		store:    store,
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
	}
}

// HasHigherRole reports whether role a grants at least the privilege of
// role b. Unknown roles rank below every known role.
func HasHigherRole(a, b string) bool {
	return domain.RoleLevel(a) >= domain.RoleLevel(b)
}

// MatchPermission checks a granted pattern against a requested permission.
// '*' matches any sequence of characters, including separators.
func MatchPermission(pattern, permission string) bool {
	if pattern == "*" {
		return true
	}
	return matchGlob(pattern, permission)
}

// CheckContext carries the request attributes dynamic grants condition on.
type CheckContext struct {
	ResourceID string
	Attributes map[string]string
}

// CheckPermission decides whether the user holds the permission inside the
// organization. Backend failures deny: authorization never defaults open.
func (s *RBACService) CheckPermission(ctx context.Context, userID, orgID, permission string, cc *CheckContext) (bool, error) {
	cacheKey := permCacheKey(userID, orgID, permission, cc)
	if cached, err := s.store.Get(ctx, cacheKey); err == nil {
		allowed := cached == "1"
		if metrics.PermissionChecksTotal != nil {
			metrics.PermissionChecksTotal.WithLabelValues(resultLabel(allowed) + "_cached").Inc()
		}
		return allowed, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Msg("permission cache unavailable")
	}

	allowed, err := s.evaluate(ctx, userID, orgID, permission, cc)
	if err != nil {
		if metrics.PermissionChecksTotal != nil {
			metrics.PermissionChecksTotal.WithLabelValues("error").Inc()
		}
		return false, err
	}

	value := "0"
	if allowed {
		value = "1"
	}
	if err := s.store.Set(ctx, cacheKey, value, s.cacheTTL); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to cache permission check")
	}

	if metrics.PermissionChecksTotal != nil {
		metrics.PermissionChecksTotal.WithLabelValues(resultLabel(allowed)).Inc()
	}
	return allowed, nil
}

// EnforcePermission is CheckPermission for callers that only care about the
// error: denial surfaces as ErrPermissionDenied.
func (s *RBACService) EnforcePermission(ctx context.Context, userID, orgID, permission string, cc *CheckContext) error {
	allowed, err := s.CheckPermission(ctx, userID, orgID, permission, cc)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s in %s", janerr.ErrPermissionDenied, permission, orgID)
	}
	return nil
}

// permCacheKey scopes cached decisions to the check context: the same
// permission checked with different attributes must not share an entry. The
// key stays under the user's perms prefix so prefix invalidation still
// covers it.
func permCacheKey(userID, orgID, permission string, cc *CheckContext) string {
	key := cache.PermKey(userID, orgID, permission)
	if cc == nil || (cc.ResourceID == "" && len(cc.Attributes) == 0) {
		return key
	}

	h := sha256.New()
	h.Write([]byte(cc.ResourceID))
	names := make([]string, 0, len(cc.Attributes))
	for name := range cc.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(cc.Attributes[name]))
	}
	return key + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (s *RBACService) evaluate(ctx context.Context, userID, orgID, permission string, cc *CheckContext) (bool, error) {
	membership, err := s.users.GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, janerr.ErrNoMembership) {
			return false, nil
		}
		return false, fmt.Errorf("%w: membership lookup: %w", janerr.ErrAuthzUnavailable, err)
	}
	if !membership.IsActive {
		return false, nil
	}

	if membership.Role == domain.RoleSuperAdmin {
		return true, nil
	}

	for _, pattern := range rolePermissions[membership.Role] {
		if MatchPermission(pattern, permission) {
			return true, nil
		}
	}

	policies, err := s.policies.ListByOrgRole(ctx, orgID, membership.Role)
	if err != nil {
		return false, fmt.Errorf("%w: policy lookup: %w", janerr.ErrAuthzUnavailable, err)
	}
	for _, policy := range policies {
		if !policy.IsEnabled {
			continue
		}
		if !s.conditionsHold(policy.Conditions, userID, cc) {
			continue
		}
		for _, pattern := range policy.Permissions {
			if MatchPermission(pattern, permission) {
				return true, nil
			}
		}
	}
	return false, nil
}

// conditionsHold applies AND semantics: every set condition must match.
func (s *RBACService) conditionsHold(cond *domain.RBACPolicyConditions, userID string, cc *CheckContext) bool {
	if cond == nil {
		return true
	}
	if cond.UserID != "" && cond.UserID != userID {
		return false
	}
	if cond.ResourceID != "" {
		if cc == nil || cc.ResourceID != cond.ResourceID {
			return false
		}
	}
	now := s.now()
	if cond.TimeStart != nil && now.Before(*cond.TimeStart) {
		return false
	}
	if cond.TimeEnd != nil && now.After(*cond.TimeEnd) {
		return false
	}
	for key, want := range cond.Attributes {
		if cc == nil || cc.Attributes[key] != want {
			return false
		}
	}
	return true
}

// SetRole updates a user's role in the organization and invalidates the
// user's cached permission checks before returning. A caller observing the
// completed call never sees a stale grant served from cache.
func (s *RBACService) SetRole(ctx context.Context, userID, orgID, role string) error {
	if domain.RoleLevel(role) < 0 {
		return fmt.Errorf("unknown role %q", role)
	}

	membership := &domain.OrgMembership{
		UserID:   userID,
		OrgID:    orgID,
		Role:     role,
		IsActive: true,
	}
	if err := s.users.SetMembership(ctx, membership); err != nil {
		audit.Failure("rbac", "set_role", userID, orgID, err)
		return fmt.Errorf("failed to set role: %w", err)
	}

	if err := s.store.DeletePrefix(ctx, cache.PermPrefix(userID)); err != nil {
		return fmt.Errorf("role updated but cache invalidation failed: %w", err)
	}

	audit.Log(audit.Event{
		Service: "rbac",
		Action:  "set_role",
		User:    userID,
		Target:  orgID,
		Details: role,
		Success: true,
	})
	return nil
}

// RevokeMembership deactivates the user's membership and flushes their
// cached checks.
func (s *RBACService) RevokeMembership(ctx context.Context, userID, orgID string) error {
	membership, err := s.users.GetMembership(ctx, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to load membership: %w", err)
	}
	membership.IsActive = false
	if err := s.users.SetMembership(ctx, membership); err != nil {
		return fmt.Errorf("failed to revoke membership: %w", err)
	}
	if err := s.store.DeletePrefix(ctx, cache.PermPrefix(userID)); err != nil {
		return fmt.Errorf("membership revoked but cache invalidation failed: %w", err)
	}
	audit.Success("rbac", "revoke_membership", userID, orgID)
	return nil
}

// matchGlob matches pattern against value where '*' matches any sequence.
func matchGlob(pattern, value string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == value
	}

	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}

	return strings.HasSuffix(value, parts[len(parts)-1])
}
