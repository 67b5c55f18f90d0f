package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// ctxAuthState extracts the auth state injected by the Authenticate
// middleware. Handlers behind it that need a member fail fast with 401 when
// the caller has no profile.
func ctxAuthState(c echo.Context) (domain.AuthState, error) {
	st, _ := c.Get("auth_state").(domain.AuthState)
	if !st.IsAuthenticated() {
		return st, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication")
	}
	return st, nil
}

// ctxAccessToken returns the token the request was authenticated with.
func ctxAccessToken(c echo.Context) string {
	tok, _ := c.Get("access_token").(string)
	return tok
}
