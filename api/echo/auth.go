package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/janua-io/janua/services"
)

// AuthAPI exposes local account login and registration.
type AuthAPI struct {
	users  *services.UserService
	tokens *services.TokenService
}

// NewAuthAPI initializes the local authentication API.
func NewAuthAPI(users *services.UserService, tokens *services.TokenService) *AuthAPI {
	return &AuthAPI{users: users, tokens: tokens}
}

// RegisterRoutes registers the local authentication routes.
func (aa *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/register", aa.RegisterHandler)
	e.POST("/auth/login", aa.LoginHandler)
}

// RegisterRequest creates a local account.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	OrgID     string `json:"org_id"`
}

// RegisterHandler creates a local account.
func (aa *AuthAPI) RegisterHandler(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	user, err := aa.users.Register(c.Request().Context(), req.Email, req.Password, req.FirstName, req.LastName, req.OrgID)
	if err != nil {
		log.Ctx(c.Request().Context()).Warn().Err(err).Msg("registration failed")
		return echo.NewHTTPError(http.StatusConflict, "registration failed")
	}
	return c.JSON(http.StatusCreated, user)
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler verifies credentials and issues a token pair.
func (aa *AuthAPI) LoginHandler(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, err := aa.users.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		log.Ctx(c.Request().Context()).Error().Err(err).Msg("login failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	pair, err := aa.tokens.IssuePair(c.Request().Context(), user, "web", "openid profile email", "", "password", time.Now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token issuance failed")
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, pair)
}
