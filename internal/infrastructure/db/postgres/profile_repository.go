package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// ProfileRepository implements ports.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var profileColumns = []string{
	"user_id", "full_name", "email", "phone", "cpf", "date_of_birth",
	"badge_number", "department", "rank", "bio",
	"profile_type", "approval_status", "approved_by", "approved_at", "rejection_reason",
	"is_admin", "is_active", "created_at", "updated_at",
}

// columns renders the profile column list, optionally qualified by a table alias.
func columns(alias string) string {
	if alias == "" {
		return strings.Join(profileColumns, ", ")
	}
	qualified := make([]string, len(profileColumns))
	for i, c := range profileColumns {
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

type profileRow struct {
	UserID          string     `db:"user_id"`
	FullName        *string    `db:"full_name"`
	Email           *string    `db:"email"`
	Phone           *string    `db:"phone"`
	CPF             *string    `db:"cpf"`
	DateOfBirth     *string    `db:"date_of_birth"`
	BadgeNumber     *string    `db:"badge_number"`
	Department      *string    `db:"department"`
	Rank            *string    `db:"rank"`
	Bio             *string    `db:"bio"`
	ProfileType     string     `db:"profile_type"`
	ApprovalStatus  string     `db:"approval_status"`
	ApprovedBy      *string    `db:"approved_by"`
	ApprovedAt      *time.Time `db:"approved_at"`
	RejectionReason *string    `db:"rejection_reason"`
	IsAdmin         bool       `db:"is_admin"`
	IsActive        bool       `db:"is_active"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type listingRow struct {
	profileRow
	ApprovedByName *string `db:"approved_by_name"`
}

func toRow(p *domain.Profile) profileRow {
	return profileRow{
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
		ApprovedAt:      p.ApprovedAt,
		RejectionReason: p.RejectionReason,
		IsAdmin:         p.IsAdmin,
		IsActive:        p.IsActive,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (r profileRow) toDomain() *domain.Profile {
	p := &domain.Profile{
		UserID:          r.UserID,
		FullName:        r.FullName,
		Email:           r.Email,
		Phone:           r.Phone,
		CPF:             r.CPF,
		DateOfBirth:     r.DateOfBirth,
		BadgeNumber:     r.BadgeNumber,
		Department:      r.Department,
		Rank:            r.Rank,
		Bio:             r.Bio,
		ProfileType:     domain.ProfileType(r.ProfileType),
		ApprovalStatus:  domain.ApprovalStatus(r.ApprovalStatus),
		ApprovedBy:      r.ApprovedBy,
		RejectionReason: r.RejectionReason,
		IsAdmin:         r.IsAdmin,
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.ApprovedAt != nil {
		t := r.ApprovedAt.UTC()
		p.ApprovedAt = &t
	}
	return p
}

const insertProfileQuery = `
INSERT INTO profiles (user_id, full_name, email, phone, cpf, date_of_birth, badge_number, department, rank, bio,
                      profile_type, approval_status, approved_by, approved_at, rejection_reason,
                      is_admin, is_active, created_at, updated_at)
VALUES (:user_id, :full_name, :email, :phone, :cpf, :date_of_birth, :badge_number, :department, :rank, :bio,
        :profile_type, :approval_status, :approved_by, :approved_at, :rejection_reason,
        :is_admin, :is_active, :created_at, :updated_at)`

// Insert stores a new profile. A second profile for the same user is refused.
func (r *ProfileRepository) Insert(ctx context.Context, p *domain.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.db.NamedExecContext(ctx, insertProfileQuery, toRow(p)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert profile: %w", domain.ErrUserExists)
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// FindByUserID retrieves the profile of one user.
func (r *ProfileRepository) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var row profileRow
	q := `SELECT ` + columns("") + ` FROM profiles WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return row.toDomain(), nil
}

// Update applies the self-service patch and returns the stored row.
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	q, args := updateQuery(userID, patch, r.now())
	var row profileRow
	if err := r.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return row.toDomain(), nil
}

// updateQuery builds the UPDATE for the personal fields present in the
// patch. Approval fields have no representation here.
func updateQuery(userID string, p domain.ProfilePatch, now time.Time) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("full_name", p.FullName)
	add("phone", p.Phone)
	add("cpf", p.CPF)
	add("date_of_birth", p.DateOfBirth)
	add("badge_number", p.BadgeNumber)
	add("department", p.Department)
	add("rank", p.Rank)
	add("bio", p.Bio)

	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, userID)

	q := fmt.Sprintf(`UPDATE profiles SET %s WHERE user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), columns(""))
	return q, args
}

// List returns profiles newest first, each joined with its approver's name.
func (r *ProfileRepository) List(ctx context.Context, filter ports.ProfileFilter) ([]domain.ProfileListing, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	q, args := listQuery(filter)
	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	out := make([]domain.ProfileListing, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ProfileListing{
			Profile:        *row.profileRow.toDomain(),
			ApprovedByName: row.ApprovedByName,
		})
	}
	return out, nil
}

func listQuery(filter ports.ProfileFilter) (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT ` + columns("p") + `, a.full_name AS approved_by_name
FROM profiles p
LEFT JOIN profiles a ON a.user_id = p.approved_by`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&b, "\nWHERE p.approval_status = $%d", len(args))
	}
	b.WriteString("\nORDER BY p.created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, "\nLIMIT $%d", len(args))
	}
	return b.String(), args
}
