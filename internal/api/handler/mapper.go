package handler

import (
	"time"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// --- Request → domain input ---

func toSignUpAttributes(req signUpRequest) domain.SignUpAttributes {
	return domain.SignUpAttributes{
		FullName:    req.FullName,
		Phone:       req.Phone,
		CPF:         req.CPF,
		DateOfBirth: req.DateOfBirth,
		ProfileType: domain.ProfileType(req.ProfileType),
	}
}

func toPatch(req updateProfileRequest) domain.ProfilePatch {
	return domain.ProfilePatch{
		FullName:    req.FullName,
		Phone:       req.Phone,
		CPF:         req.CPF,
		DateOfBirth: req.DateOfBirth,
		BadgeNumber: req.BadgeNumber,
		Department:  req.Department,
		Rank:        req.Rank,
		Bio:         req.Bio,
	}
}

// --- domain → HTTP response ---

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		AccessToken: s.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   s.ExpiresAt.UTC(),
		User:        userPayload{ID: s.User.ID, Email: s.User.Email},
	}
}

func toAuthStateResponse(st domain.AuthState) authStateResponse {
	resp := authStateResponse{
		IsAuthenticated: st.IsAuthenticated(),
		IsAdmin:         st.IsAdmin(),
		IsAgent:         st.IsAgent(),
		IsCitizen:       st.IsCitizen(),
		IsApproved:      st.IsApproved(),
		IsPending:       st.IsPending(),
		IsRejected:      st.IsRejected(),
	}
	if st.User != nil {
		resp.User = &userPayload{ID: st.User.ID, Email: st.User.Email}
	}
	if st.IsAuthenticated() {
		p := toProfileResponse(st.Profile)
		resp.Profile = &p
	}
	return resp
}

func toProfileResponse(p *domain.Profile) profileResponse {
	resp := profileResponse{
		UserID:          p.UserID,
		FullName:        p.FullName,
		Email:           p.Email,
		Phone:           p.Phone,
		CPF:             p.CPF,
		DateOfBirth:     p.DateOfBirth,
		BadgeNumber:     p.BadgeNumber,
		Department:      p.Department,
		Rank:            p.Rank,
		Bio:             p.Bio,
		ProfileType:     string(p.ProfileType),
		ApprovalStatus:  string(p.ApprovalStatus),
		ApprovedBy:      p.ApprovedBy,
		RejectionReason: p.RejectionReason,
		IsAdmin:         p.IsAdmin,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.ApprovedAt != nil {
		at := p.ApprovedAt.UTC().Format(time.RFC3339)
		resp.ApprovedAt = &at
	}
	return resp
}

func toListResponse(items []domain.ProfileListing) listProfilesResponse {
	out := make([]profileResponse, 0, len(items))
	for i := range items {
		r := toProfileResponse(&items[i].Profile)
		r.ApprovedByName = items[i].ApprovedByName
		out = append(out, r)
	}
	return listProfilesResponse{Items: out, Count: len(out)}
}
