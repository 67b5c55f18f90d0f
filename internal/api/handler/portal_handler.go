package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PortalHandler renders the member-only views. Access is decided by Guard
// before these run.
type PortalHandler struct{}

func NewPortalHandler() *PortalHandler {
	return &PortalHandler{}
}

// Members handles GET /portal.
//
// @Summary      Members area
// @Tags         portal
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  viewResponse
// @Failure      302
// @Failure      403  {object}  domain.Screen
// @Router       /portal [get]
func (h *PortalHandler) Members(c echo.Context) error {
	return h.view(c, "portal", "Members area")
}

// Agents handles GET /agent.
//
// @Summary      Agent area
// @Tags         portal
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  viewResponse
// @Failure      403  {object}  domain.Screen
// @Router       /agent [get]
func (h *PortalHandler) Agents(c echo.Context) error {
	return h.view(c, "agent", "Agent area")
}

func (h *PortalHandler) view(c echo.Context, name, title string) error {
	st, err := ctxAuthState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewResponse{
		View:    name,
		Title:   title,
		Profile: toProfileResponse(st.Profile),
	})
}
