package domain

import "time"

// Token types issued by the token service.
const (
	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"
	TokenTypeID      = "id_token"
)

// TokenClaims is the validated view of a token: the claims the rest of the
// system is allowed to act on. It is what the validation cache stores.
type TokenClaims struct {
	ID        string    `json:"jti"`
	Subject   string    `json:"sub"`
	ClientID  string    `json:"client_id"`
	Audience  string    `json:"aud"`
	Scope     string    `json:"scope,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	TokenType string    `json:"token_type"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	AuthTime  time.Time `json:"auth_time,omitempty"`
}

// Expired reports whether the token's lifetime has passed.
func (c *TokenClaims) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TokenPair is the response shape of every grant that issues tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Introspection is the RFC 7662 response shape. Active=false carries no other
// fields so an unverifiable token leaks nothing about why it failed.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

// UserInfo is the OIDC userinfo response; fields are filled according to the
// scopes granted to the presenting access token.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
}
