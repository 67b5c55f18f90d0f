package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// ProfileUpdater applies self-service edits.
type ProfileUpdater interface {
	UpdateOwn(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error)
}

// ProfileHandler serves the caller's own profile.
type ProfileHandler struct {
	profiles ProfileUpdater
}

func NewProfileHandler(profiles ProfileUpdater) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Get handles GET /me.
//
// @Summary      Current member profile
// @Tags         profile
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  profileResponse
// @Failure      401  {object}  map[string]string
// @Router       /me [get]
func (h *ProfileHandler) Get(c echo.Context) error {
	st, err := ctxAuthState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toProfileResponse(st.Profile))
}

// Update handles PATCH /me. Approval status, profile type and the admin flag
// cannot be changed here; unknown fields are ignored.
//
// @Summary      Edit own profile
// @Tags         profile
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      updateProfileRequest  true  "Fields to change"
// @Success      200   {object}  profileResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /me [patch]
func (h *ProfileHandler) Update(c echo.Context) error {
	st, err := ctxAuthState(c)
	if err != nil {
		return err
	}

	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	p, err := h.profiles.UpdateOwn(c.Request().Context(), st.UserID(), toPatch(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toProfileResponse(p))
}
