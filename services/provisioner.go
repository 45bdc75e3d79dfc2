package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

// JITProvisioner creates or links local accounts for federated profiles.
// Matching is by email within the organization; new accounts start as
// members with a verified email, password login disabled.
type JITProvisioner struct {
	users domain.UserRepository
	now   func() time.Time
}

// NewJITProvisioner creates a new JITProvisioner.
func NewJITProvisioner(users domain.UserRepository) *JITProvisioner {
	return &JITProvisioner{
		users: users,
		now:   time.Now,
	}
}

// Provision implements domain.Provisioner.
func (p *JITProvisioner) Provision(ctx context.Context, orgID string, profile *domain.FederatedProfile) (*domain.User, error) {
	user, err := p.users.GetByEmail(ctx, profile.Email)
	if err == nil {
		if !user.IsActive {
			return nil, fmt.Errorf("account for %s is disabled", profile.Email)
		}
		// Link: refresh the profile fields the provider is authoritative for.
		changed := false
		if profile.FirstName != "" && user.FirstName != profile.FirstName {
			user.FirstName = profile.FirstName
			changed = true
		}
		if profile.LastName != "" && user.LastName != profile.LastName {
			user.LastName = profile.LastName
			changed = true
		}
		if changed {
			user.UpdatedAt = p.now()
			if err := p.users.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to update linked user: %w", err)
			}
		}
		return user, nil
	}
	if !errors.Is(err, janerr.ErrUserNotFound) {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	now := p.now()
	user = &domain.User{
		ID:            uuid.NewString(),
		Email:         profile.Email,
		EmailVerified: true,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		OrgID:         orgID,
		Roles:         []string{domain.RoleMember},
		Attributes:    profile.Attributes,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := p.users.SetMembership(ctx, &domain.OrgMembership{
		UserID:   user.ID,
		OrgID:    orgID,
		Role:     domain.RoleMember,
		IsActive: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return user, nil
}

var _ domain.Provisioner = (*JITProvisioner)(nil)
