package echo

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/middleware"
	"github.com/janua-io/janua/services"
)

// OAuth2API exposes the authorization server surface.
type OAuth2API struct {
	oauth  *services.OAuthService
	tokens *services.TokenService
	signer *services.TokenSigner
	issuer string
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(oauth *services.OAuthService, tokens *services.TokenService, signer *services.TokenSigner, issuer string) *OAuth2API {
	return &OAuth2API{
		oauth:  oauth,
		tokens: tokens,
		signer: signer,
		issuer: issuer,
	}
}

// RegisterRoutes registers the OAuth2 routes. The authorize endpoint sits
// behind token authentication: the first-party UI authenticates the user
// before consent.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth2/authorize", oa.AuthorizeHandler, middleware.RequireAccessToken(oa.tokens))
	e.POST("/oauth2/token", oa.TokenHandler)
	e.GET("/oauth2/userinfo", oa.UserInfoHandler)
	e.POST("/oauth2/introspect", oa.IntrospectHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)

	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
}

// AuthorizeHandler validates the authorization request and redirects back
// to the client with a single-use code. Client and redirect URI failures are
// rendered, never redirected.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	req := &services.AuthorizeRequest{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		Nonce:               c.QueryParam("nonce"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		UserID:              middleware.UserID(c),
	}

	code, err := oa.oauth.Authorize(c.Request().Context(), req)
	if err != nil {
		var oauthErr *janerr.OAuth2Error
		if errors.As(err, &oauthErr) {
			switch oauthErr.Code {
			case janerr.InvalidClient, janerr.InvalidRedirectURI:
				return c.JSON(http.StatusBadRequest, oauthErr)
			case janerr.ServerError:
				return c.JSON(http.StatusInternalServerError, oauthErr)
			}
			// Spec-defined errors for a valid client and redirect URI are
			// delivered on the redirect.
			return oa.redirectError(c, req.RedirectURI, req.State, oauthErr)
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("authorize failed")
		return c.JSON(http.StatusInternalServerError, janerr.NewServerError("authorization failed"))
	}

	redirect := fmt.Sprintf("%s?code=%s", req.RedirectURI, url.QueryEscape(code))
	if req.State != "" {
		redirect += "&state=" + url.QueryEscape(req.State)
	}
	return c.Redirect(http.StatusFound, redirect)
}

func (oa *OAuth2API) redirectError(c echo.Context, redirectURI, state string, oauthErr *janerr.OAuth2Error) error {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return c.JSON(http.StatusBadRequest, oauthErr)
	}
	q := u.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, u.String())
}

// TokenHandler handles the token endpoint for the authorization_code and
// refresh_token grants. Client credentials come from the form body or HTTP
// basic auth.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	clientID, clientSecret := clientCredentials(c)

	req := &services.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
	}

	pair, err := oa.oauth.Exchange(c.Request().Context(), req)
	if err != nil {
		var oauthErr *janerr.OAuth2Error
		if errors.As(err, &oauthErr) {
			status := http.StatusBadRequest
			switch oauthErr.Code {
			case janerr.InvalidClient:
				status = http.StatusUnauthorized
			case janerr.ServerError:
				status = http.StatusServiceUnavailable
			}
			return c.JSON(status, oauthErr)
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("token exchange failed")
		return c.JSON(http.StatusInternalServerError, janerr.NewServerError("token exchange failed"))
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, pair)
}

// UserInfoHandler returns the OIDC userinfo claims for a bearer access
// token.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	raw := bearerToken(c)
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	info, err := oa.tokens.UserInfo(c.Request().Context(), raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return c.JSON(http.StatusOK, info)
}

// IntrospectHandler implements RFC 7662. The caller must authenticate as a
// registered client; invalid tokens then yield active:false with a 200,
// never an error body.
func (oa *OAuth2API) IntrospectHandler(c echo.Context) error {
	if !oa.requireClient(c) {
		return nil
	}

	token := c.FormValue("token")
	result, err := oa.tokens.Introspect(c.Request().Context(), token)
	if err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("introspection failed")
		result = nil
	}
	if result == nil {
		return c.JSON(http.StatusOK, map[string]bool{"active": false})
	}
	return c.JSON(http.StatusOK, result)
}

// RevokeHandler implements RFC 7009. The caller must authenticate as a
// registered client; revocation then always answers 200, even for unknown
// tokens.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	if !oa.requireClient(c) {
		return nil
	}

	token := c.FormValue("token")
	if token != "" {
		if err := oa.tokens.Revoke(c.Request().Context(), token); err != nil {
			log.Ctx(c.Request().Context()).Warn().Err(err).Msg("revocation incomplete")
		}
	}
	return c.NoContent(http.StatusOK)
}

// requireClient authenticates the calling client. On failure it writes the
// invalid_client response and reports false, so handlers return nil and stop.
func (oa *OAuth2API) requireClient(c echo.Context) bool {
	clientID, clientSecret := clientCredentials(c)
	if _, err := oa.oauth.AuthenticateClient(c.Request().Context(), clientID, clientSecret); err != nil {
		var oauthErr *janerr.OAuth2Error
		if errors.As(err, &oauthErr) && oauthErr.Code == janerr.ServerError {
			_ = c.JSON(http.StatusServiceUnavailable, oauthErr)
			return false
		}
		_ = c.JSON(http.StatusUnauthorized, janerr.NewInvalidClient("client authentication failed"))
		return false
	}
	return true
}

func clientCredentials(c echo.Context) (string, string) {
	clientID := c.FormValue("client_id")
	clientSecret := c.FormValue("client_secret")
	if basicID, basicSecret, ok := c.Request().BasicAuth(); ok {
		clientID, clientSecret = basicID, basicSecret
	}
	return clientID, clientSecret
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
