package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/cache"
	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/audit"
	"github.com/janua-io/janua/internal/metrics"
)

// AuthorizeRequest is a validated /oauth/authorize request for an already
// authenticated user.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
}

// TokenRequest is a /oauth/token request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
}

// OAuthService implements the authorization code flow with PKCE. Codes are
// single use: exchange claims them atomically through the cache store, so
// concurrent exchanges of one code yield exactly one token response.
type OAuthService struct {
	clients domain.ClientRepository
	users   domain.UserRepository
	tokens  *TokenService
	store   cache.Store
	hasher  PasswordHasher
	now     func() time.Time
}

// NewOAuthService creates a new OAuthService.
func NewOAuthService(clients domain.ClientRepository, users domain.UserRepository, tokens *TokenService, store cache.Store, hasher PasswordHasher) *OAuthService {
	return &OAuthService{
		clients: clients,
		users:   users,
		tokens:  tokens,
		store:   store,
		hasher:  hasher,
		now:     time.Now,
	}
}

// NormalizeRedirectURI canonicalizes a redirect URI for comparison: scheme
// and host are lowercased and a trailing slash on the path is dropped.
func NormalizeRedirectURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// redirectAllowed reports whether the requested URI exactly matches one of
// the registered URIs after normalization. No wildcard or prefix matching.
func redirectAllowed(client *domain.Client, redirectURI string) bool {
	want := NormalizeRedirectURI(redirectURI)
	for _, registered := range client.RedirectURIs {
		if NormalizeRedirectURI(registered) == want {
			return true
		}
	}
	return false
}

func scopeAllowed(client *domain.Client, scope string) bool {
	allowed := make(map[string]struct{}, len(client.AllowedScopes))
	for _, s := range client.AllowedScopes {
		allowed[s] = struct{}{}
	}
	for _, s := range strings.Fields(scope) {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}

func generateCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Authorize validates an authorization request and mints a single-use code
// bound to the client, user, redirect URI and PKCE challenge.
func (s *OAuthService) Authorize(ctx context.Context, req *AuthorizeRequest) (string, error) {
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, janerr.ErrClientNotFound) {
			// Unknown client: never redirect, render the error directly.
			return "", janerr.NewInvalidClient("unknown client")
		}
		return "", janerr.NewServerError("client lookup failed")
	}
	if !client.IsActive {
		return "", janerr.NewInvalidClient("client is disabled")
	}

	if !redirectAllowed(client, req.RedirectURI) {
		return "", janerr.NewInvalidRedirectURI()
	}

	if req.ResponseType != "code" {
		return "", janerr.NewUnsupportedResponseType("only the authorization code flow is supported")
	}

	if req.Scope != "" && !scopeAllowed(client, req.Scope) {
		return "", janerr.NewInvalidScope("requested scope exceeds client registration")
	}

	requiresPKCE := client.RequirePKCE || !client.IsConfidential
	if requiresPKCE && req.CodeChallenge == "" {
		return "", janerr.NewPKCERequired()
	}
	if req.CodeChallenge != "" && !ValidPKCEMethod(req.CodeChallengeMethod) {
		return "", janerr.NewInvalidRequest("unsupported code_challenge_method")
	}

	code, err := generateCode()
	if err != nil {
		return "", janerr.NewServerError("code generation failed")
	}

	now := s.now()
	authCode := &domain.AuthCode{
		Code:                code,
		ClientID:            client.ClientID,
		UserID:              req.UserID,
		RedirectURI:         NormalizeRedirectURI(req.RedirectURI),
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(domain.AuthCodeTTL),
	}

	payload, err := json.Marshal(authCode)
	if err != nil {
		return "", janerr.NewServerError("code serialization failed")
	}
	if err := s.store.Set(ctx, cache.AuthCodeKey(code), string(payload), domain.AuthCodeTTL); err != nil {
		// Fail closed: a code that was never durably stored must not be
		// handed out.
		log.Ctx(ctx).Error().Err(err).Msg("failed to store authorization code")
		return "", janerr.NewServerError("authorization temporarily unavailable")
	}

	audit.Success("oauth", "authorize", req.UserID, client.ClientID)
	return code, nil
}

// Exchange trades a grant for tokens. Authorization codes are claimed
// atomically: a second exchange of the same code gets invalid_grant.
func (s *OAuthService) Exchange(ctx context.Context, req *TokenRequest) (*domain.TokenPair, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, req)
	case "refresh_token":
		return s.refresh(ctx, req)
	default:
		return nil, janerr.NewUnsupportedGrantType()
	}
}

// AuthenticateClient verifies client credentials for endpoints that require
// client authentication outside a grant exchange, such as introspection and
// revocation.
func (s *OAuthService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	return s.authenticateClient(ctx, clientID, clientSecret)
}

func (s *OAuthService) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, janerr.ErrClientNotFound) {
			return nil, janerr.NewInvalidClient("client authentication failed")
		}
		return nil, janerr.NewServerError("client lookup failed")
	}
	if !client.IsActive {
		return nil, janerr.NewInvalidClient("client authentication failed")
	}
	if client.IsConfidential {
		if clientSecret == "" || s.hasher.Verify(client.SecretHash, clientSecret) != nil {
			audit.Failure("oauth", "client_auth", "", clientID, janerr.NewInvalidClient("bad secret"))
			return nil, janerr.NewInvalidClient("client authentication failed")
		}
	}
	return client, nil
}

func (s *OAuthService) exchangeCode(ctx context.Context, req *TokenRequest) (*domain.TokenPair, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	payload, err := s.store.GetDel(ctx, cache.AuthCodeKey(req.Code))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			if metrics.CodeExchangesTotal != nil {
				metrics.CodeExchangesTotal.WithLabelValues("invalid_grant").Inc()
			}
			return nil, janerr.NewInvalidGrant("authorization code is invalid or already used")
		}
		// Store unreachable: fail closed rather than risk double redemption.
		log.Ctx(ctx).Error().Err(err).Msg("code store unavailable during exchange")
		if metrics.CodeExchangesTotal != nil {
			metrics.CodeExchangesTotal.WithLabelValues("unavailable").Inc()
		}
		return nil, janerr.NewServerError("token endpoint temporarily unavailable")
	}

	var code domain.AuthCode
	if err := json.Unmarshal([]byte(payload), &code); err != nil {
		return nil, janerr.NewServerError("stored code is corrupt")
	}

	if code.ClientID != client.ClientID {
		return nil, janerr.NewInvalidGrant("authorization code was issued to another client")
	}
	if s.now().After(code.ExpiresAt) {
		return nil, janerr.NewInvalidGrant("authorization code expired")
	}
	if NormalizeRedirectURI(req.RedirectURI) != code.RedirectURI {
		return nil, janerr.NewInvalidGrant("redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, janerr.NewInvalidPKCE("code_verifier is required")
		}
		if !ValidatePKCEChallenge(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
			return nil, janerr.NewInvalidPKCE("code_verifier does not match the challenge")
		}
	}

	user, err := s.users.GetByID(ctx, code.UserID)
	if err != nil {
		return nil, janerr.NewServerError("user lookup failed")
	}
	if !user.IsActive {
		return nil, janerr.NewInvalidGrant("user account is disabled")
	}

	pair, err := s.tokens.IssuePair(ctx, user, client.ClientID, code.Scope, code.Nonce, "authorization_code", code.CreatedAt)
	if err != nil {
		return nil, janerr.NewServerError("token issuance failed")
	}

	if metrics.CodeExchangesTotal != nil {
		metrics.CodeExchangesTotal.WithLabelValues("ok").Inc()
	}
	audit.Success("oauth", "token_exchange", user.ID, client.ClientID)
	return pair, nil
}

func (s *OAuthService) refresh(ctx context.Context, req *TokenRequest) (*domain.TokenPair, error) {
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	tc, err := s.tokens.Validate(ctx, req.RefreshToken, domain.TokenTypeRefresh)
	if err != nil {
		return nil, janerr.NewInvalidGrant("refresh token is invalid")
	}
	if tc.ClientID != client.ClientID {
		return nil, janerr.NewInvalidGrant("refresh token was issued to another client")
	}

	user, err := s.users.GetByID(ctx, tc.Subject)
	if err != nil {
		return nil, janerr.NewServerError("user lookup failed")
	}
	if !user.IsActive {
		return nil, janerr.NewInvalidGrant("user account is disabled")
	}

	// Rotate: the presented refresh token is revoked before the new pair
	// is returned.
	if err := s.tokens.Revoke(ctx, req.RefreshToken); err != nil {
		return nil, janerr.NewServerError("refresh token rotation failed")
	}

	pair, err := s.tokens.IssuePair(ctx, user, client.ClientID, tc.Scope, "", "refresh_token", tc.AuthTime)
	if err != nil {
		return nil, janerr.NewServerError("token issuance failed")
	}

	audit.Success("oauth", "token_refresh", user.ID, client.ClientID)
	return pair, nil
}
