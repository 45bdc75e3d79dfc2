package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/metrics"
)

// TokenServiceConfig carries issuer identity and lifetimes.
type TokenServiceConfig struct {
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	IDTokenTTL         time.Duration
	SigningKeyID       string
	ValidationCacheTTL time.Duration
}

// TokenService issues, validates, introspects and revokes platform tokens.
// Validation results are cached by token hash; revocation invalidates the
// cache entry synchronously so a revoked token is never served from cache.
type TokenService struct {
	signer *TokenSigner
	store  cache.Store
	users  domain.UserRepository
	cfg    TokenServiceConfig
	now    func() time.Time
}

// NewTokenService creates a new TokenService.
func NewTokenService(signer *TokenSigner, store cache.Store, users domain.UserRepository, cfg TokenServiceConfig) *TokenService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.IDTokenTTL <= 0 {
		cfg.IDTokenTTL = time.Hour
	}
	if cfg.ValidationCacheTTL <= 0 {
		cfg.ValidationCacheTTL = 5 * time.Minute
	}
	return &TokenService{
		signer: signer,
		store:  store,
		users:  users,
		cfg:    cfg,
		now:    time.Now,
	}
}

func revokedKey(jti string) string {
	return fmt.Sprintf("token:revoked:%s", jti)
}

// IssueToken signs one token of the given type for the subject.
func (s *TokenService) IssueToken(ctx context.Context, tc *domain.TokenClaims) (string, error) {
	now := s.now()
	var ttl time.Duration
	switch tc.TokenType {
	case domain.TokenTypeRefresh:
		ttl = s.cfg.RefreshTokenTTL
	case domain.TokenTypeID:
		ttl = s.cfg.IDTokenTTL
	default:
		ttl = s.cfg.AccessTokenTTL
	}

	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	tc.IssuedAt = now
	tc.ExpiresAt = now.Add(ttl)

	claims := jwt.MapClaims{
		"iss":        s.cfg.Issuer,
		"sub":        tc.Subject,
		"jti":        tc.ID,
		"aud":        tc.ClientID,
		"client_id":  tc.ClientID,
		"token_type": tc.TokenType,
		"iat":        now.Unix(),
		"exp":        tc.ExpiresAt.Unix(),
	}
	if tc.Scope != "" {
		claims["scope"] = tc.Scope
	}
	if len(tc.Roles) > 0 {
		claims["roles"] = tc.Roles
	}
	if !tc.AuthTime.IsZero() {
		claims["auth_time"] = tc.AuthTime.Unix()
	}

	signed, err := s.signer.Sign(claims, s.cfg.SigningKeyID)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tc.TokenType, err)
	}
	return signed, nil
}

// IssueIDToken builds an OIDC ID token for the authenticated user. The
// access token hash (at_hash) binds the two when an access token is issued
// alongside.
func (s *TokenService) IssueIDToken(ctx context.Context, user *domain.User, clientID, nonce, accessToken string, authTime time.Time) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":       s.cfg.Issuer,
		"sub":       user.ID,
		"aud":       clientID,
		"iat":       now.Unix(),
		"exp":       now.Add(s.cfg.IDTokenTTL).Unix(),
		"auth_time": authTime.Unix(),
		"email":     user.Email,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if accessToken != "" {
		claims["at_hash"] = AccessTokenHash(accessToken)
	}

	signed, err := s.signer.Sign(claims, s.cfg.SigningKeyID)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

// AccessTokenHash computes the OIDC at_hash: the left half of the SHA-256
// digest, base64url-encoded without padding.
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// IssuePair issues an access and refresh token pair, with an ID token when
// the scope includes openid. The grant names the flow that produced the pair
// and labels the issuance counter.
func (s *TokenService) IssuePair(ctx context.Context, user *domain.User, clientID, scope, nonce, grant string, authTime time.Time) (*domain.TokenPair, error) {
	access, err := s.IssueToken(ctx, &domain.TokenClaims{
		Subject:   user.ID,
		ClientID:  clientID,
		Scope:     scope,
		Roles:     user.Roles,
		TokenType: domain.TokenTypeAccess,
		AuthTime:  authTime,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.IssueToken(ctx, &domain.TokenClaims{
		Subject:   user.ID,
		ClientID:  clientID,
		Scope:     scope,
		TokenType: domain.TokenTypeRefresh,
		AuthTime:  authTime,
	})
	if err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}

	if hasScope(scope, "openid") {
		idToken, err := s.IssueIDToken(ctx, user, clientID, nonce, access, authTime)
		if err != nil {
			return nil, err
		}
		pair.IDToken = idToken
	}

	if metrics.TokensIssuedTotal != nil {
		metrics.TokensIssuedTotal.WithLabelValues(domain.TokenTypeAccess, grant).Inc()
	}
	return pair, nil
}

// Validate verifies a raw token and returns its claims. Results are cached
// under the token hash; cache failures degrade to a full verification.
func (s *TokenService) Validate(ctx context.Context, raw, wantType string) (*domain.TokenClaims, error) {
	cacheKey := cache.TokenValidationKey(raw)

	if cached, err := s.store.Get(ctx, cacheKey); err == nil {
		var tc domain.TokenClaims
		if jsonErr := json.Unmarshal([]byte(cached), &tc); jsonErr == nil {
			if tc.Expired(s.now()) {
				return nil, janerr.ErrTokenExpired
			}
			if wantType != "" && tc.TokenType != wantType {
				return nil, janerr.ErrTokenWrongType
			}
			return &tc, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Msg("token validation cache unavailable, verifying directly")
	}

	tc, err := s.verify(ctx, raw)
	if err != nil {
		if metrics.TokenValidationsTotal != nil {
			metrics.TokenValidationsTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	if wantType != "" && tc.TokenType != wantType {
		return nil, janerr.ErrTokenWrongType
	}

	ttl := s.cfg.ValidationCacheTTL
	if remaining := time.Until(tc.ExpiresAt); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		if payload, jsonErr := json.Marshal(tc); jsonErr == nil {
			if err := s.store.Set(ctx, cacheKey, string(payload), ttl); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("failed to cache token validation")
			}
		}
	}

	if metrics.TokenValidationsTotal != nil {
		metrics.TokenValidationsTotal.WithLabelValues("accepted").Inc()
	}
	return tc, nil
}

func (s *TokenService) verify(ctx context.Context, raw string) (*domain.TokenClaims, error) {
	token, err := jwt.Parse(raw, s.signer.Keyfunc,
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, janerr.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, janerr.ErrTokenSignature
		default:
			return nil, janerr.ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, janerr.ErrTokenMalformed
	}

	tc := &domain.TokenClaims{}
	tc.ID, _ = claims["jti"].(string)
	tc.Subject, _ = claims["sub"].(string)
	tc.ClientID, _ = claims["client_id"].(string)
	tc.Audience, _ = claims["aud"].(string)
	if tc.Audience == "" || tc.Audience != tc.ClientID {
		return nil, janerr.ErrTokenMalformed
	}
	tc.Scope, _ = claims["scope"].(string)
	tc.TokenType, _ = claims["token_type"].(string)
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				tc.Roles = append(tc.Roles, s)
			}
		}
	}
	if iat, ok := claims["iat"].(float64); ok {
		tc.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		tc.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if authTime, ok := claims["auth_time"].(float64); ok {
		tc.AuthTime = time.Unix(int64(authTime), 0)
	}

	if tc.ID != "" {
		if _, err := s.store.Get(ctx, revokedKey(tc.ID)); err == nil {
			return nil, janerr.ErrTokenRevoked
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			log.Ctx(ctx).Warn().Err(err).Msg("revocation check unavailable")
		}
	}
	return tc, nil
}

// Introspect implements RFC 7662. Any validation failure yields active:false
// without disclosing why.
func (s *TokenService) Introspect(ctx context.Context, raw string) (*domain.Introspection, error) {
	tc, err := s.Validate(ctx, raw, "")
	if err != nil {
		return &domain.Introspection{Active: false}, nil
	}

	return &domain.Introspection{
		Active:    true,
		Scope:     tc.Scope,
		ClientID:  tc.ClientID,
		Audience:  tc.Audience,
		Subject:   tc.Subject,
		TokenType: tc.TokenType,
		ExpiresAt: tc.ExpiresAt.Unix(),
		IssuedAt:  tc.IssuedAt.Unix(),
		Issuer:    s.cfg.Issuer,
		JTI:       tc.ID,
	}, nil
}

// Revoke marks a token revoked for its remaining lifetime and drops its
// cached validation entry. Unknown or malformed tokens are a no-op: RFC 7009
// treats revocation as idempotent.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	token, err := jwt.Parse(raw, s.signer.Keyfunc)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("revoke called with unparseable token")
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil
	}

	ttl := s.cfg.AccessTokenTTL
	if exp, ok := claims["exp"].(float64); ok {
		ttl = time.Until(time.Unix(int64(exp), 0))
	}
	if ttl <= 0 {
		return nil
	}

	if err := s.store.Set(ctx, revokedKey(jti), "1", ttl); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	// Synchronous cache invalidation: the stale validation entry must not
	// outlive the revocation.
	if err := s.store.Delete(ctx, cache.TokenValidationKey(raw)); err != nil {
		return fmt.Errorf("failed to invalidate token cache: %w", err)
	}
	return nil
}

// UserInfo resolves the OIDC userinfo response for a valid access token.
func (s *TokenService) UserInfo(ctx context.Context, raw string) (*domain.UserInfo, error) {
	tc, err := s.Validate(ctx, raw, domain.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, tc.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", tc.Subject, err)
	}

	info := &domain.UserInfo{Subject: user.ID}
	if hasScope(tc.Scope, "email") {
		info.Email = user.Email
		verified := user.EmailVerified
		info.EmailVerified = &verified
	}
	if hasScope(tc.Scope, "profile") {
		info.Name = user.FullName()
		info.GivenName = user.FirstName
		info.FamilyName = user.LastName
		info.Picture = user.Picture
	}
	return info, nil
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
