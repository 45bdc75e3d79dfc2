package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/services"
)

// RequirePermission gates a route on an RBAC check against the organization
// named in the :org_id path parameter. Backend failures deny.
func RequirePermission(rbac *services.RBACService, permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := UserID(c)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			orgID := c.Param("org_id")
			if orgID == "" {
				orgID = c.QueryParam("org_id")
			}

			allowed, err := rbac.CheckPermission(c.Request().Context(), userID, orgID, permission, nil)
			if err != nil {
				log.Ctx(c.Request().Context()).Error().Err(err).Msg("permission check failed")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authorization unavailable")
			}
			if !allowed {
				return echo.NewHTTPError(http.StatusForbidden, "permission denied")
			}
			return next(c)
		}
	}
}
