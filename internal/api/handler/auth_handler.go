package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pcportal/portal-auth/internal/api/middleware"
	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

type AuthHandler struct {
	authService  ports.AuthService
	secureCookie bool
}

func NewAuthHandler(authService ports.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{authService: authService, secureCookie: secureCookie}
}

// SignUp registers a member. The profile starts pending as a citizen whatever
// profile_type was requested.
//
// @Summary      Register a new member
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signUpRequest  true  "Registration details"
// @Success      201   {object}  sessionResponse
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /auth/signup [post]
func (h *AuthHandler) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ctx := c.Request().Context()
	if _, err := h.authService.SignUp(ctx, req.Email, req.Password, toSignUpAttributes(req)); err != nil {
		return err
	}
	sess, err := h.authService.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	h.setCookie(c, sess.AccessToken, sess.ExpiresAt)
	return c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// SignIn authenticates a member and opens a session.
//
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signInRequest  true  "Credentials"
// @Success      200   {object}  sessionResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /auth/signin [post]
func (h *AuthHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	sess, err := h.authService.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	h.setCookie(c, sess.AccessToken, sess.ExpiresAt)
	return c.JSON(http.StatusOK, toSessionResponse(sess))
}

// SignOut revokes the current session. The cookie is cleared even when the
// backend call fails.
//
// @Summary      Sign out
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  map[string]string
// @Router       /auth/signout [post]
func (h *AuthHandler) SignOut(c echo.Context) error {
	token := ctxAccessToken(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication")
	}

	h.setCookie(c, "", time.Unix(0, 0))
	if err := h.authService.SignOut(c.Request().Context(), token); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Session reports who is signed in and what their profile says.
//
// @Summary      Current auth state
// @Tags         auth
// @Produce      json
// @Success      200  {object}  authStateResponse
// @Router       /auth/session [get]
func (h *AuthHandler) Session(c echo.Context) error {
	st, _ := c.Get("auth_state").(domain.AuthState)
	return c.JSON(http.StatusOK, toAuthStateResponse(st))
}

func (h *AuthHandler) setCookie(c echo.Context, value string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
