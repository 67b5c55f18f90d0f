package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/core/service"
)

type stubProfileRepo struct {
	listings   []domain.ProfileListing
	lastFilter ports.ProfileFilter
	updated    *domain.Profile
	lastPatch  domain.ProfilePatch
}

func (r *stubProfileRepo) FindByUserID(context.Context, string) (*domain.Profile, error) {
	return nil, domain.ErrProfileNotFound
}

func (r *stubProfileRepo) Insert(context.Context, *domain.Profile) error { return nil }

func (r *stubProfileRepo) Update(_ context.Context, _ string, patch domain.ProfilePatch) (*domain.Profile, error) {
	r.lastPatch = patch
	if r.updated == nil {
		return nil, domain.ErrProfileNotFound
	}
	return r.updated, nil
}

func (r *stubProfileRepo) List(_ context.Context, filter ports.ProfileFilter) ([]domain.ProfileListing, error) {
	r.lastFilter = filter
	return r.listings, nil
}

type decision struct {
	actorID, userID string
	profileType     *domain.ProfileType
	reason          *string
}

type stubApprovalRPC struct {
	applied bool
	calls   []decision
}

func (r *stubApprovalRPC) DecideApproval(_ context.Context, actorID, userID string, pt *domain.ProfileType, reason *string) (bool, error) {
	r.calls = append(r.calls, decision{actorID: actorID, userID: userID, profileType: pt, reason: reason})
	return r.applied, nil
}

func adminState() domain.AuthState {
	user := &domain.User{ID: "admin-1", Email: "root@example.com"}
	p := domain.NewPendingProfile(*user, domain.SignUpAttributes{FullName: "Root"}, testNow)
	p.ProfileType = domain.ProfileAdmin
	p.ApprovalStatus = domain.StatusApproved
	p.IsAdmin = true
	return domain.AuthState{User: user, Profile: p, Initialized: true}
}

func newApprovalHandler(repo *stubProfileRepo, rpc *stubApprovalRPC) *ApprovalHandler {
	return NewApprovalHandler(service.NewApprovalWorkflow(repo, rpc, nil, zerolog.Nop()))
}

func decideContext(e *echo.Echo, action, userID, body string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/admin/users/"+userID+"/"+action, body), rec)
	c.SetPath("/admin/users/:user_id/" + action)
	c.SetParamNames("user_id")
	c.SetParamValues(userID)
	c.Set("auth_state", adminState())
	return c, rec
}

func TestApprovalHandler_ListPending(t *testing.T) {
	approver := "Root"
	older := domain.NewPendingProfile(domain.User{ID: "u1"}, domain.SignUpAttributes{FullName: "First"}, testNow)
	newer := domain.NewPendingProfile(domain.User{ID: "u2"}, domain.SignUpAttributes{FullName: "Second"}, testNow.Add(time.Hour))
	repo := &stubProfileRepo{listings: []domain.ProfileListing{
		{Profile: *newer},
		{Profile: *older, ApprovedByName: &approver},
	}}
	e := newEcho()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/users/pending", nil), rec)

	require.NoError(t, newApprovalHandler(repo, &stubApprovalRPC{}).ListPending(c))

	assert.Equal(t, domain.StatusPending, repo.lastFilter.Status)
	var resp listProfilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "u2", resp.Items[0].UserID)
	require.NotNil(t, resp.Items[1].ApprovedByName)
	assert.Equal(t, "Root", *resp.Items[1].ApprovedByName)
}

func TestApprovalHandler_ListAll(t *testing.T) {
	repo := &stubProfileRepo{}
	e := newEcho()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/users", nil), rec)

	require.NoError(t, newApprovalHandler(repo, &stubApprovalRPC{}).ListAll(c))

	assert.Empty(t, repo.lastFilter.Status)
	assert.JSONEq(t, `{"items":[],"count":0}`, rec.Body.String())
}

func TestApprovalHandler_Approve(t *testing.T) {
	rpc := &stubApprovalRPC{applied: true}
	e := newEcho()
	c, rec := decideContext(e, "approve", "u7", `{"profile_type":"agent"}`)

	require.NoError(t, newApprovalHandler(&stubProfileRepo{}, rpc).Approve(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rpc.calls, 1)
	call := rpc.calls[0]
	assert.Equal(t, "admin-1", call.actorID)
	assert.Equal(t, "u7", call.userID)
	require.NotNil(t, call.profileType)
	assert.Equal(t, domain.ProfileAgent, *call.profileType)
	assert.Nil(t, call.reason)
}

func TestApprovalHandler_Approve_InvalidType(t *testing.T) {
	rpc := &stubApprovalRPC{applied: true}
	e := newEcho()
	c, _ := decideContext(e, "approve", "u7", `{"profile_type":"superuser"}`)

	err := newApprovalHandler(&stubProfileRepo{}, rpc).Approve(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnprocessableEntity, he.Code)
	assert.Empty(t, rpc.calls)
}

func TestApprovalHandler_Reject(t *testing.T) {
	rpc := &stubApprovalRPC{applied: true}
	e := newEcho()
	c, rec := decideContext(e, "reject", "u7", `{"reason":"incomplete documents"}`)

	require.NoError(t, newApprovalHandler(&stubProfileRepo{}, rpc).Reject(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, rpc.calls, 1)
	require.NotNil(t, rpc.calls[0].reason)
	assert.Equal(t, "incomplete documents", *rpc.calls[0].reason)
	assert.Nil(t, rpc.calls[0].profileType)
}

func TestApprovalHandler_Reject_BlankReason(t *testing.T) {
	rpc := &stubApprovalRPC{applied: true}
	e := newEcho()
	c, _ := decideContext(e, "reject", "u7", `{"reason":"   "}`)

	err := newApprovalHandler(&stubProfileRepo{}, rpc).Reject(c)

	assert.ErrorIs(t, err, domain.ErrRejectionReasonRequired)
	assert.Empty(t, rpc.calls)
}

func TestApprovalHandler_RefusedByBackend(t *testing.T) {
	rpc := &stubApprovalRPC{applied: false}
	e := newEcho()
	c, _ := decideContext(e, "approve", "u7", `{"profile_type":"citizen"}`)

	err := newApprovalHandler(&stubProfileRepo{}, rpc).Approve(c)

	assert.ErrorIs(t, err, domain.ErrDecisionRejected)
}
