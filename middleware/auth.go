package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/domain"
	"github.com/janua-io/janua/services"
)

// Context keys set by the authentication middleware.
const (
	ContextKeyUserID = "auth_user_id"
	ContextKeyClaims = "auth_claims"
)

// RequireAccessToken validates the bearer token and stores the claims on the
// echo context. Requests without a valid access token get 401.
func RequireAccessToken(tokens *services.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := tokens.Validate(c.Request().Context(), raw, domain.TokenTypeAccess)
			if err != nil {
				log.Ctx(c.Request().Context()).Debug().Err(err).Msg("token rejected")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(ContextKeyUserID, claims.Subject)
			c.Set(ContextKeyClaims, claims)
			return next(c)
		}
	}
}

// UserID returns the authenticated user set by RequireAccessToken.
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextKeyUserID).(string)
	return id
}

// Claims returns the validated token claims, or nil.
func Claims(c echo.Context) *domain.TokenClaims {
	claims, _ := c.Get(ContextKeyClaims).(*domain.TokenClaims)
	return claims
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
