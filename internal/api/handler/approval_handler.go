package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/core/service"
)

// ApprovalHandler serves the admin user-management views. Routes are
// expected behind Guard with an admin requirement.
type ApprovalHandler struct {
	workflow *service.ApprovalWorkflow
}

func NewApprovalHandler(workflow *service.ApprovalWorkflow) *ApprovalHandler {
	return &ApprovalHandler{workflow: workflow}
}

// ListAll handles GET /admin/users.
//
// @Summary      List every member profile
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  listProfilesResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  domain.Screen
// @Router       /admin/users [get]
func (h *ApprovalHandler) ListAll(c echo.Context) error {
	items, err := h.workflow.ListAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toListResponse(items))
}

// ListPending handles GET /admin/users/pending.
//
// @Summary      List profiles awaiting approval
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  listProfilesResponse
// @Failure      403  {object}  domain.Screen
// @Router       /admin/users/pending [get]
func (h *ApprovalHandler) ListPending(c echo.Context) error {
	items, err := h.workflow.ListPending(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toListResponse(items))
}

// Approve handles POST /admin/users/:user_id/approve.
//
// @Summary      Approve a pending profile
// @Tags         admin
// @Accept       json
// @Security     BearerAuth
// @Param        user_id  path  string          true  "Member user id"
// @Param        body     body  approveRequest  true  "Granted profile type"
// @Success      204
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Router       /admin/users/{user_id}/approve [post]
func (h *ApprovalHandler) Approve(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return h.decide(c, domain.Approve(domain.ProfileType(req.ProfileType)))
}

// Reject handles POST /admin/users/:user_id/reject.
//
// @Summary      Reject a pending profile
// @Tags         admin
// @Accept       json
// @Security     BearerAuth
// @Param        user_id  path  string         true  "Member user id"
// @Param        body     body  rejectRequest  true  "Reason shown to the applicant"
// @Success      204
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /admin/users/{user_id}/reject [post]
func (h *ApprovalHandler) Reject(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	return h.decide(c, domain.Reject(req.Reason))
}

func (h *ApprovalHandler) decide(c echo.Context, d domain.ApprovalDecision) error {
	st, err := ctxAuthState(c)
	if err != nil {
		return err
	}
	wf := h.workflow.ForActor(ports.StaticUser{User: st.User})
	if err := wf.Decide(c.Request().Context(), c.Param("user_id"), d); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
