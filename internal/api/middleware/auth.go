package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// SessionCookie carries the access token for browser clients.
const SessionCookie = "portal_session"

// ProfileFetcher resolves the profile of a signed-in user.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (*domain.Profile, bool)
}

// Authenticate resolves the caller from a Bearer token or the session cookie
// and injects the auth state into context. Anonymous requests pass through
// with an empty state; Guard decides what they may see.
//
// A token that is present but malformed, expired or revoked is rejected with 401.
func Authenticate(auth ports.AuthService, profiles ProfileFetcher, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := accessToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			st := domain.AuthState{Initialized: true}
			if token == "" {
				c.Set("auth_state", st)
				return next(c)
			}

			ctx := c.Request().Context()
			sess, err := auth.Verify(ctx, token)
			if err != nil {
				if errors.Is(err, domain.ErrNotAuthenticated) || errors.Is(err, domain.ErrSessionNotFound) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				return err
			}

			user := sess.User
			st.User = &user
			if p, ok := profiles.FetchProfile(ctx, user.ID); ok {
				st.Profile = p
			} else {
				log.Debug().Str("user_id", user.ID).Msg("signed-in user has no profile")
			}

			c.Set("auth_state", st)
			c.Set("session", sess)
			c.Set("access_token", token)
			return next(c)
		}
	}
}

func accessToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", errors.New("invalid authorization header")
		}
		return parts[1], nil
	}
	if ck, err := r.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, nil
	}
	return "", nil
}
