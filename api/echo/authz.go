package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
	"github.com/janua-io/janua/middleware"
	"github.com/janua-io/janua/services"
)

// AuthzAPI exposes the RBAC engine, the policy engine and risk assessment.
type AuthzAPI struct {
	rbac     *services.RBACService
	policies *services.PolicyEngine
	risk     *services.RiskService
	tokens   *services.TokenService
}

// NewAuthzAPI initializes the authorization API.
func NewAuthzAPI(rbac *services.RBACService, policies *services.PolicyEngine, risk *services.RiskService, tokens *services.TokenService) *AuthzAPI {
	return &AuthzAPI{rbac: rbac, policies: policies, risk: risk, tokens: tokens}
}

// RegisterRoutes registers the authorization routes.
func (aa *AuthzAPI) RegisterRoutes(e *echo.Echo) {
	auth := middleware.RequireAccessToken(aa.tokens)

	e.POST("/authz/check", aa.CheckPermissionHandler, auth)
	e.POST("/authz/evaluate", aa.EvaluateHandler, auth)
	e.POST("/risk/assess", aa.AssessRiskHandler, auth)

	e.PUT("/orgs/:org_id/members/:user_id/role", aa.SetRoleHandler, auth,
		middleware.RequirePermission(aa.rbac, "users:roles:write"))
	e.POST("/orgs/:org_id/policies", aa.CreatePolicyHandler, auth,
		middleware.RequirePermission(aa.rbac, "policies:write"))
	e.PUT("/orgs/:org_id/policies/:policy_id", aa.UpdatePolicyHandler, auth,
		middleware.RequirePermission(aa.rbac, "policies:write"))
	e.DELETE("/orgs/:org_id/policies/:policy_id", aa.DeletePolicyHandler, auth,
		middleware.RequirePermission(aa.rbac, "policies:write"))
}

// CheckPermissionRequest asks whether a user holds a permission.
type CheckPermissionRequest struct {
	UserID     string            `json:"user_id"`
	OrgID      string            `json:"org_id"`
	Permission string            `json:"permission"`
	ResourceID string            `json:"resource_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CheckPermissionHandler answers an RBAC question.
func (aa *AuthzAPI) CheckPermissionHandler(c echo.Context) error {
	var req CheckPermissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = middleware.UserID(c)
	}

	allowed, err := aa.rbac.CheckPermission(c.Request().Context(), req.UserID, req.OrgID, req.Permission, &services.CheckContext{
		ResourceID: req.ResourceID,
		Attributes: req.Attributes,
	})
	if err != nil {
		if errors.Is(err, janerr.ErrAuthzUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "authorization unavailable")
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("permission check failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "permission check failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"allowed": allowed})
}

// EvaluateHandler answers a policy engine question.
func (aa *AuthzAPI) EvaluateHandler(c echo.Context) error {
	var req domain.AccessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Subject == "" {
		req.Subject = middleware.UserID(c)
	}

	decision, err := aa.policies.Evaluate(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, janerr.ErrAuthzUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "policy backend unavailable")
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("policy evaluation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "policy evaluation failed")
	}
	return c.JSON(http.StatusOK, decision)
}

// AssessRiskRequest carries the login context to score.
type AssessRiskRequest struct {
	UserID      string  `json:"user_id"`
	OrgID       string  `json:"org_id"`
	IPAddress   string  `json:"ip_address"`
	DeviceID    string  `json:"device_id"`
	UserAgent   string  `json:"user_agent"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MFAVerified bool    `json:"mfa_verified"`
}

// AssessRiskHandler scores an authentication attempt.
func (aa *AuthzAPI) AssessRiskHandler(c echo.Context) error {
	var req AssessRiskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.IPAddress == "" {
		req.IPAddress = c.RealIP()
	}

	assessment, err := aa.risk.Assess(c.Request().Context(), &domain.RiskContext{
		UserID:      req.UserID,
		OrgID:       req.OrgID,
		IPAddress:   req.IPAddress,
		DeviceID:    req.DeviceID,
		UserAgent:   req.UserAgent,
		Country:     req.Country,
		City:        req.City,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Timestamp:   time.Now(),
		MFAVerified: req.MFAVerified,
	})
	if err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("risk assessment failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "risk assessment failed")
	}
	return c.JSON(http.StatusOK, assessment)
}

// SetRoleRequest names the role to grant.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// SetRoleHandler updates a member's role. The caller observes the cache
// invalidation: permission checks after this call see the new role.
func (aa *AuthzAPI) SetRoleHandler(c echo.Context) error {
	var req SetRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := aa.rbac.SetRole(c.Request().Context(), c.Param("user_id"), c.Param("org_id"), req.Role); err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("set role failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "set role failed")
	}
	return c.NoContent(http.StatusOK)
}

// CreatePolicyHandler stores a tenant policy.
func (aa *AuthzAPI) CreatePolicyHandler(c echo.Context) error {
	var policy domain.Policy
	if err := c.Bind(&policy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	policy.TenantID = c.Param("org_id")

	if err := aa.policies.CreatePolicy(c.Request().Context(), &policy); err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("create policy failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "create policy failed")
	}
	return c.JSON(http.StatusCreated, policy)
}

// UpdatePolicyHandler replaces a tenant policy.
func (aa *AuthzAPI) UpdatePolicyHandler(c echo.Context) error {
	var policy domain.Policy
	if err := c.Bind(&policy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	policy.ID = c.Param("policy_id")
	policy.TenantID = c.Param("org_id")

	if err := aa.policies.UpdatePolicy(c.Request().Context(), &policy); err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("update policy failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "update policy failed")
	}
	return c.JSON(http.StatusOK, policy)
}

// DeletePolicyHandler removes a tenant policy.
func (aa *AuthzAPI) DeletePolicyHandler(c echo.Context) error {
	if err := aa.policies.DeletePolicy(c.Request().Context(), c.Param("policy_id")); err != nil {
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("delete policy failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "delete policy failed")
	}
	return c.NoContent(http.StatusNoContent)
}
