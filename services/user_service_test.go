package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janua-io/janua/domain"
)

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, plainHasher{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bob", "Jones", "org-1")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, []string{domain.RoleMember}, user.Roles)
	assert.NotEqual(t, "hunter22", user.Password, "password is stored hashed")

	got, err := svc.Authenticate(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestUserService_RegisterRejectsDuplicateEmail(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, plainHasher{})
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bob", "Jones", "org-1")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "bob@example.com", "other", "Robert", "Jones", "org-1")
	assert.Error(t, err)
}

func TestUserService_AuthenticateFailuresAreUniform(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, plainHasher{})
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bob", "Jones", "org-1")
	require.NoError(t, err)

	// Unknown email and wrong password are indistinguishable.
	_, err = svc.Authenticate(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_AuthenticateRejectsDisabledAccount(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, plainHasher{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "bob@example.com", "hunter22", "Bob", "Jones", "org-1")
	require.NoError(t, err)
	user.IsActive = false

	_, err = svc.Authenticate(ctx, "bob@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_AuthenticateRejectsFederatedOnlyAccount(t *testing.T) {
	users := newFakeUserRepo()
	federated := testUser()
	federated.Password = ""
	users.add(federated)
	svc := NewUserService(users, plainHasher{})

	_, err := svc.Authenticate(context.Background(), federated.Email, "anything")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
