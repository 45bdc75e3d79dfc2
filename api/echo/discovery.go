package echo

import (
	"encoding/base64"
	"math/big"
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSONWebKey is one published signing key.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the JWKS document.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JWKSHandler publishes the RS256 public keys. With only the HS256 default
// signer configured the set is empty.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	jwks := JSONWebKeySet{Keys: []JSONWebKey{}}
	for kid, pub := range oa.signer.PublicKeys() {
		jwks.Keys = append(jwks.Keys, JSONWebKey{
			Kid: kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return c.JSON(http.StatusOK, jwks)
}

// OpenIDConfigurationHandler publishes the discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	issuer := oa.issuer
	return c.JSON(http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth2/authorize",
		"token_endpoint":                        issuer + "/oauth2/token",
		"userinfo_endpoint":                     issuer + "/oauth2/userinfo",
		"introspection_endpoint":                issuer + "/oauth2/introspect",
		"revocation_endpoint":                   issuer + "/oauth2/revoke",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"HS256", "RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"claims_supported": []string{
			"iss", "sub", "aud", "exp", "iat", "auth_time", "email", "nonce", "at_hash",
		},
	})
}
