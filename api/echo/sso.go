package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/internal/federation"
	"github.com/janua-io/janua/middleware"
	"github.com/janua-io/janua/services"
)

// SSOAPI exposes federated login and provider administration.
type SSOAPI struct {
	sso    *services.SSOService
	tokens *services.TokenService
	rbac   *services.RBACService
}

// NewSSOAPI initializes the SSO API.
func NewSSOAPI(sso *services.SSOService, tokens *services.TokenService, rbac *services.RBACService) *SSOAPI {
	return &SSOAPI{sso: sso, tokens: tokens, rbac: rbac}
}

// RegisterRoutes registers the SSO routes. Provider administration requires
// an admin-level permission in the target organization.
func (sa *SSOAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/sso/login/:provider_id", sa.LoginHandler)
	e.GET("/sso/callback/:provider_id", sa.CallbackHandler)
	e.POST("/sso/callback/:provider_id", sa.CallbackHandler)
	e.POST("/sso/logout", sa.LogoutHandler, middleware.RequireAccessToken(sa.tokens))

	e.POST("/orgs/:org_id/sso/providers", sa.CreateProviderHandler,
		middleware.RequireAccessToken(sa.tokens),
		middleware.RequirePermission(sa.rbac, "sso:providers:write"))
}

// LoginHandler begins a federated login by redirecting to the provider.
func (sa *SSOAPI) LoginHandler(c echo.Context) error {
	providerID := c.Param("provider_id")
	returnTo := c.QueryParam("return_to")

	authURL, err := sa.sso.InitiateLogin(c.Request().Context(), providerID, returnTo)
	if err != nil {
		return sa.ssoError(c, err)
	}
	return c.Redirect(http.StatusFound, authURL)
}

// CallbackHandler finishes a federated login: SAML posts form values, OIDC
// returns query parameters.
func (sa *SSOAPI) CallbackHandler(c echo.Context) error {
	providerID := c.Param("provider_id")

	in := &federation.CallbackInput{
		Code:         c.QueryParam("code"),
		State:        c.QueryParam("state"),
		SAMLResponse: c.FormValue("SAMLResponse"),
		RelayState:   c.FormValue("RelayState"),
	}

	result, err := sa.sso.HandleCallback(c.Request().Context(), providerID, in, c.RealIP())
	if err != nil {
		return sa.ssoError(c, err)
	}

	pair, err := sa.tokens.IssuePair(c.Request().Context(), result.User, "sso", "openid profile email", "", "sso", result.Session.CreatedAt)
	if err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("token issuance after sso failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "login succeeded but token issuance failed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id": result.Session.ID,
		"tokens":     pair,
	})
}

// LogoutHandler tears down the caller's SSO session.
func (sa *SSOAPI) LogoutHandler(c echo.Context) error {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := c.Bind(&body); err != nil || body.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if err := sa.sso.Logout(c.Request().Context(), body.SessionID); err != nil {
		if errors.Is(err, janerr.ErrSessionNotFound) {
			return c.NoContent(http.StatusOK)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
	}
	return c.NoContent(http.StatusOK)
}

// CreateProviderRequest is the provider administration payload. Secret
// material is accepted once and stored encrypted.
type CreateProviderRequest struct {
	Provider         domain.IdentityProvider `json:"provider"`
	OIDCClientSecret string                  `json:"oidc_client_secret,omitempty"`
	SAMLPrivateKey   string                  `json:"saml_private_key,omitempty"`
}

// CreateProviderHandler stores a new identity provider for the org.
func (sa *SSOAPI) CreateProviderHandler(c echo.Context) error {
	var req CreateProviderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Provider.OrgID = c.Param("org_id")

	if err := sa.sso.CreateProvider(c.Request().Context(), &req.Provider, req.OIDCClientSecret, req.SAMLPrivateKey); err != nil {
		return sa.ssoError(c, err)
	}
	return c.JSON(http.StatusCreated, req.Provider)
}

func (sa *SSOAPI) ssoError(c echo.Context, err error) error {
	var ssoErr *janerr.SSOError
	if errors.As(err, &ssoErr) {
		log.Ctx(c.Request().Context()).Warn().
			Err(err).
			Str("kind", string(ssoErr.Kind)).
			Str("provider_id", ssoErr.ProviderID).
			Msg("sso request failed")
		switch ssoErr.Kind {
		case janerr.SSOConfiguration, janerr.SSOMetadata, janerr.SSOCertificate:
			return echo.NewHTTPError(http.StatusBadRequest, "provider configuration error")
		case janerr.SSOValidation, janerr.SSOAuthentication:
			return echo.NewHTTPError(http.StatusUnauthorized, "federated login failed")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "sso error")
		}
	}
	if errors.Is(err, janerr.ErrProviderNotFound) || errors.Is(err, janerr.ErrProviderDisabled) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}
	log.Ctx(c.Request().Context()).Error().Err(err).Msg("sso request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "sso error")
}
