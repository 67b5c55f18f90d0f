package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/core/service"
)

// Guard evaluates req against the caller resolved by Authenticate.
//
// Unauthenticated browsers are redirected to signInPath carrying the original
// location; API clients get 401. Every other refusal renders the explanatory
// screen with 403, and 503 while the state cannot be determined.
func Guard(guard *service.AccessGuard, req domain.Requirement, signInPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st, _ := c.Get("auth_state").(domain.AuthState)
			d := guard.WithSource(ports.StaticState{AuthState: st}).Evaluate(c.Request().Context(), req)

			switch d.State {
			case domain.GuardGranted:
				return next(c)
			case domain.GuardUnauthenticated:
				if wantsJSON(c.Request()) {
					return c.JSON(http.StatusUnauthorized, d.Screen())
				}
				loc, _ := d.Redirect(signInPath, c.Request().URL.RequestURI())
				return c.Redirect(http.StatusFound, loc)
			case domain.GuardLoading:
				return c.JSON(http.StatusServiceUnavailable, d.Screen())
			default:
				return c.JSON(http.StatusForbidden, d.Screen())
			}
		}
	}
}

// wantsJSON tells API clients from browsers: they either send a token in the
// header or ask for JSON explicitly.
func wantsJSON(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return true
	}
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
