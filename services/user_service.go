package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/audit"
	"github.com/janua-io/janua/internal/metrics"
)

// ErrInvalidCredentials covers every password login failure so callers
// cannot probe which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService handles local account registration and password login.
type UserService struct {
	users  domain.UserRepository
	hasher PasswordHasher
	now    func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(users domain.UserRepository, hasher PasswordHasher) *UserService {
	return &UserService{
		users:  users,
		hasher: hasher,
		now:    time.Now,
	}
}

// Register creates a local account with a hashed password.
func (s *UserService) Register(ctx context.Context, email, password, firstName, lastName, orgID string) (*domain.User, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email %s is already registered", email)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  hash,
		FirstName: firstName,
		LastName:  lastName,
		OrgID:     orgID,
		Roles:     []string{domain.RoleMember},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	audit.Success("users", "register", user.ID, orgID)
	return user, nil
}

// Authenticate verifies an email and password pair. Every failure surfaces
// as ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, janerr.ErrUserNotFound) {
			s.countLogin(false)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if !user.IsActive || user.Password == "" {
		s.countLogin(false)
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(user.Password, password); err != nil {
		s.countLogin(false)
		audit.Failure("users", "login", user.ID, "", ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	s.countLogin(true)
	audit.Success("users", "login", user.ID, "")
	return user, nil
}

func (s *UserService) countLogin(success bool) {
	if metrics.SSOLoginsTotal == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	metrics.SSOLoginsTotal.WithLabelValues("password", result).Inc()
}
