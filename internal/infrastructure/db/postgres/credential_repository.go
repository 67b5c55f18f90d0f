package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// CredentialRepository implements ports.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	db *sqlx.DB
}

func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

type credentialRow struct {
	UserID       string    `db:"user_id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	const q = `INSERT INTO credentials (user_id, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, q, c.UserID, c.Email, c.PasswordHash, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("insert credentials: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*domain.Credentials, error) {
	return r.findOne(ctx, "email", email)
}

func (r *CredentialRepository) FindByUserID(ctx context.Context, userID string) (*domain.Credentials, error) {
	return r.findOne(ctx, "user_id", userID)
}

// findOne looks a row up by a unique column. column is never user input.
func (r *CredentialRepository) findOne(ctx context.Context, column, value string) (*domain.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var row credentialRow
	q := `SELECT user_id, email, password_hash, created_at, updated_at FROM credentials WHERE ` + column + ` = $1`
	if err := r.db.GetContext(ctx, &row, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find credentials: %w", err)
	}
	return &domain.Credentials{
		UserID:       row.UserID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}
