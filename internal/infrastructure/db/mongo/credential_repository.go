package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// CredentialRepository implements ports.CredentialRepository using MongoDB.
type CredentialRepository struct {
	coll *mongo.Collection
}

func NewCredentialRepository(db *mongo.Database) *CredentialRepository {
	return &CredentialRepository{coll: db.Collection(collectionCredentials)}
}

type mongoCredentials struct {
	UserID       string    `bson:"user_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credentials) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := mongoCredentials{
		UserID:       c.UserID,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrUserExists
		}
		return fmt.Errorf("insert credentials: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*domain.Credentials, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *CredentialRepository) FindByUserID(ctx context.Context, userID string) (*domain.Credentials, error) {
	return r.findOne(ctx, bson.M{"user_id": userID})
}

func (r *CredentialRepository) findOne(ctx context.Context, filter bson.M) (*domain.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var mc mongoCredentials
	if err := r.coll.FindOne(ctx, filter).Decode(&mc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find credentials: %w", err)
	}
	return &domain.Credentials{
		UserID:       mc.UserID,
		Email:        mc.Email,
		PasswordHash: mc.PasswordHash,
		CreatedAt:    mc.CreatedAt.UTC(),
		UpdatedAt:    mc.UpdatedAt.UTC(),
	}, nil
}

// EnsureIndexes creates the unique email and user_id indexes.
func (r *CredentialRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	return err
}
