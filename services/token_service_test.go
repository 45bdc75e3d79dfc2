package services

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/metrics"
)

const testIssuer = "https://auth.test.janua.io"

func newTestTokenService(t *testing.T, users domain.UserRepository) (*TokenService, *cache.MemoryStore) {
	t.Helper()
	signer := NewTokenSigner()
	signer.AddKeySigner("test-secret-key-for-unit-tests")

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	if users == nil {
		users = newFakeUserRepo()
	}
	svc := NewTokenService(signer, store, users, TokenServiceConfig{
		Issuer:         testIssuer,
		AccessTokenTTL: time.Hour,
	})
	return svc, store
}

func testUser() *domain.User {
	return &domain.User{
		ID:            "user-1",
		Email:         "alice@example.com",
		EmailVerified: true,
		FirstName:     "Alice",
		LastName:      "Smith",
		Roles:         []string{domain.RoleMember},
		IsActive:      true,
	}
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
		Subject:   "user-1",
		ClientID:  "client-1",
		Scope:     "openid email",
		TokenType: domain.TokenTypeAccess,
	})
	require.NoError(t, err)

	tc, err := svc.Validate(ctx, raw, domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", tc.Subject)
	assert.Equal(t, "client-1", tc.ClientID)
	assert.Equal(t, "client-1", tc.Audience)
	assert.Equal(t, "openid email", tc.Scope)
	assert.Equal(t, domain.TokenTypeAccess, tc.TokenType)
	assert.NotEmpty(t, tc.ID)

	// Second validation is served from cache and must agree.
	cached, err := svc.Validate(ctx, raw, domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, tc.ID, cached.ID)
}

func TestTokenService_ValidateRejectsWrongType(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
		Subject:   "user-1",
		ClientID:  "client-1",
		TokenType: domain.TokenTypeRefresh,
	})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, raw, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenWrongType)
}

func TestTokenService_ValidateRejectsExpired(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	issuedAt := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issuedAt }
	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
		Subject:   "user-1",
		TokenType: domain.TokenTypeAccess,
	})
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.Validate(ctx, raw, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenExpired)
}

func TestTokenService_ValidateRejectsForeignSignature(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)

	other := NewTokenSigner()
	other.AddKeySigner("a-different-secret")
	otherSvc := NewTokenService(other, cache.NewMemoryStore(), newFakeUserRepo(), TokenServiceConfig{Issuer: testIssuer})

	raw, err := otherSvc.IssueToken(context.Background(), &domain.TokenClaims{
		Subject:   "user-1",
		TokenType: domain.TokenTypeAccess,
	})
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), raw, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenSignature)
}

func TestTokenService_ValidateRejectsAudienceMismatch(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()
	now := time.Now()

	sign := func(mutate func(jwt.MapClaims)) string {
		claims := jwt.MapClaims{
			"iss":        testIssuer,
			"sub":        "user-1",
			"jti":        "jti-1",
			"aud":        "client-1",
			"client_id":  "client-1",
			"token_type": domain.TokenTypeAccess,
			"iat":        now.Unix(),
			"exp":        now.Add(time.Hour).Unix(),
		}
		mutate(claims)
		raw, err := svc.signer.Sign(claims, "")
		require.NoError(t, err)
		return raw
	}

	// aud naming a different client.
	_, err := svc.Validate(ctx, sign(func(c jwt.MapClaims) { c["aud"] = "other-client" }), domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenMalformed)

	// aud absent entirely.
	_, err = svc.Validate(ctx, sign(func(c jwt.MapClaims) { delete(c, "aud") }), domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenMalformed)

	// Matching aud passes.
	tc, err := svc.Validate(ctx, sign(func(jwt.MapClaims) {}), domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "client-1", tc.Audience)
}

func TestTokenService_RevokeThenValidate(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
		Subject:   "user-1",
		ClientID:  "client-1",
		TokenType: domain.TokenTypeAccess,
	})
	require.NoError(t, err)

	// Warm the validation cache, then revoke.
	_, err = svc.Validate(ctx, raw, domain.TokenTypeAccess)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, raw))

	_, err = svc.Validate(ctx, raw, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, janerr.ErrTokenRevoked)
}

func TestTokenService_RevokeIsIdempotent(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	assert.NoError(t, svc.Revoke(ctx, "not-a-jwt"))

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{Subject: "u", TokenType: domain.TokenTypeAccess})
	require.NoError(t, err)
	assert.NoError(t, svc.Revoke(ctx, raw))
	assert.NoError(t, svc.Revoke(ctx, raw))
}

func TestTokenService_IntrospectActive(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
		Subject:   "user-1",
		ClientID:  "client-1",
		Scope:     "openid",
		TokenType: domain.TokenTypeAccess,
	})
	require.NoError(t, err)

	in, err := svc.Introspect(ctx, raw)
	require.NoError(t, err)
	assert.True(t, in.Active)
	assert.Equal(t, "user-1", in.Subject)
	assert.Equal(t, "client-1", in.ClientID)
	assert.Equal(t, testIssuer, in.Issuer)
	assert.NotZero(t, in.ExpiresAt)
}

func TestTokenService_IntrospectInvalidIsInactiveAndSilent(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		in, err := svc.Introspect(ctx, raw)
		require.NoError(t, err)
		assert.False(t, in.Active)
		assert.Empty(t, in.Subject)
		assert.Empty(t, in.ClientID)
		assert.Zero(t, in.ExpiresAt)
	}
}

func TestTokenService_IntrospectRevokedIsInactive(t *testing.T) {
	svc, _ := newTestTokenService(t, nil)
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{Subject: "u", ClientID: "client-1", TokenType: domain.TokenTypeAccess})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, raw))

	in, err := svc.Introspect(ctx, raw)
	require.NoError(t, err)
	assert.False(t, in.Active)
}

func TestTokenService_IssuePairWithOpenIDScope(t *testing.T) {
	users := newFakeUserRepo()
	user := testUser()
	users.add(user)
	svc, _ := newTestTokenService(t, users)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user, "client-1", "openid email", "nonce-1", "authorization_code", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, pair.IDToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)

	noOIDC, err := svc.IssuePair(ctx, user, "client-1", "email", "", "authorization_code", time.Now())
	require.NoError(t, err)
	assert.Empty(t, noOIDC.IDToken, "id_token only accompanies the openid scope")
}

func TestTokenService_IssuePairLabelsGrant(t *testing.T) {
	users := newFakeUserRepo()
	user := testUser()
	users.add(user)
	svc, _ := newTestTokenService(t, users)
	ctx := context.Background()

	counter := func(grant string) float64 {
		return testutil.ToFloat64(metrics.TokensIssuedTotal.WithLabelValues(domain.TokenTypeAccess, grant))
	}

	for _, grant := range []string{"authorization_code", "refresh_token", "password", "sso"} {
		before := counter(grant)
		_, err := svc.IssuePair(ctx, user, "client-1", "email", "", grant, time.Now())
		require.NoError(t, err)
		assert.Equal(t, before+1, counter(grant), "issuance under grant %q", grant)
	}
}

func TestAccessTokenHash(t *testing.T) {
	h := AccessTokenHash("some-access-token")
	decoded, err := base64.RawURLEncoding.DecodeString(h)
	require.NoError(t, err)
	assert.Len(t, decoded, 16, "at_hash is the left half of a SHA-256 digest")
	assert.Equal(t, h, AccessTokenHash("some-access-token"))
	assert.NotEqual(t, h, AccessTokenHash("another-token"))
}

func TestTokenService_UserInfoScopeGating(t *testing.T) {
	users := newFakeUserRepo()
	user := testUser()
	user.Picture = "https://cdn.example.com/alice.png"
	users.add(user)
	svc, _ := newTestTokenService(t, users)
	ctx := context.Background()

	issue := func(scope string) string {
		raw, err := svc.IssueToken(ctx, &domain.TokenClaims{
			Subject:   user.ID,
			ClientID:  "client-1",
			Scope:     scope,
			TokenType: domain.TokenTypeAccess,
		})
		require.NoError(t, err)
		return raw
	}

	info, err := svc.UserInfo(ctx, issue("openid"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, info.Subject)
	assert.Empty(t, info.Email)
	assert.Empty(t, info.Name)

	info, err = svc.UserInfo(ctx, issue("openid email"))
	require.NoError(t, err)
	assert.Equal(t, user.Email, info.Email)
	require.NotNil(t, info.EmailVerified)
	assert.True(t, *info.EmailVerified)
	assert.Empty(t, info.Name)

	info, err = svc.UserInfo(ctx, issue("openid profile"))
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", info.Name)
	assert.Equal(t, "Alice", info.GivenName)
	assert.Equal(t, user.Picture, info.Picture)
	assert.Empty(t, info.Email)
}

func TestTokenService_ValidateSurvivesCacheOutage(t *testing.T) {
	signer := NewTokenSigner()
	signer.AddKeySigner("test-secret-key-for-unit-tests")
	svc := NewTokenService(signer, failingStore{}, newFakeUserRepo(), TokenServiceConfig{Issuer: testIssuer})
	ctx := context.Background()

	raw, err := svc.IssueToken(ctx, &domain.TokenClaims{Subject: "u", ClientID: "client-1", TokenType: domain.TokenTypeAccess})
	require.NoError(t, err)

	tc, err := svc.Validate(ctx, raw, domain.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "u", tc.Subject)
}
