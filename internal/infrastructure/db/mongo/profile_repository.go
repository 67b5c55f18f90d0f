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
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// ProfileRepository implements ports.ProfileRepository using MongoDB.
type ProfileRepository struct {
	col *mongo.Collection
	now func() time.Time
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{
		col: db.Collection(collectionProfiles),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// mongoProfile is the stored document. Nullable approval fields are written
// as explicit nulls.
type mongoProfile struct {
	UserID          string     `bson:"user_id"`
	FullName        *string    `bson:"full_name"`
	Email           *string    `bson:"email"`
	Phone           *string    `bson:"phone,omitempty"`
	CPF             *string    `bson:"cpf,omitempty"`
	DateOfBirth     *string    `bson:"date_of_birth,omitempty"`
	BadgeNumber     *string    `bson:"badge_number,omitempty"`
	Department      *string    `bson:"department,omitempty"`
	Rank            *string    `bson:"rank,omitempty"`
	Bio             *string    `bson:"bio,omitempty"`
	ProfileType     string     `bson:"profile_type"`
	ApprovalStatus  string     `bson:"approval_status"`
	ApprovedBy      *string    `bson:"approved_by"`
	ApprovedAt      *time.Time `bson:"approved_at"`
	RejectionReason *string    `bson:"rejection_reason"`
	IsAdmin         bool       `bson:"is_admin"`
	IsActive        bool       `bson:"is_active"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

type mongoProfileListing struct {
	Profile        mongoProfile `bson:",inline"`
	ApprovedByName *string      `bson:"approved_by_name,omitempty"`
}

func toMongoProfile(p *domain.Profile) mongoProfile {
	return mongoProfile{
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

func (m mongoProfile) toDomain() *domain.Profile {
	p := &domain.Profile{
		UserID:          m.UserID,
		FullName:        m.FullName,
		Email:           m.Email,
		Phone:           m.Phone,
		CPF:             m.CPF,
		DateOfBirth:     m.DateOfBirth,
		BadgeNumber:     m.BadgeNumber,
		Department:      m.Department,
		Rank:            m.Rank,
		Bio:             m.Bio,
		ProfileType:     domain.ProfileType(m.ProfileType),
		ApprovalStatus:  domain.ApprovalStatus(m.ApprovalStatus),
		ApprovedBy:      m.ApprovedBy,
		RejectionReason: m.RejectionReason,
		IsAdmin:         m.IsAdmin,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
	if m.ApprovedAt != nil {
		t := m.ApprovedAt.UTC()
		p.ApprovedAt = &t
	}
	return p
}

// Insert stores a new profile. A second profile for the same user is refused.
func (r *ProfileRepository) Insert(ctx context.Context, p *domain.Profile) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.col.InsertOne(ctx, toMongoProfile(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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

	var m mongoProfile
	if err := r.col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return m.toDomain(), nil
}

// Update applies the self-service patch and returns the stored document.
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	set := patchSet(patch)
	set["updated_at"] = r.now()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m mongoProfile
	err := r.col.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, bson.M{"$set": set}, opts).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return m.toDomain(), nil
}

// patchSet lists the personal fields present in the patch. Approval fields
// have no representation here.
func patchSet(p domain.ProfilePatch) bson.M {
	set := bson.M{}
	add := func(field string, v *string) {
		if v != nil {
			set[field] = *v
		}
	}
	add("full_name", p.FullName)
	add("phone", p.Phone)
	add("cpf", p.CPF)
	add("date_of_birth", p.DateOfBirth)
	add("badge_number", p.BadgeNumber)
	add("department", p.Department)
	add("rank", p.Rank)
	add("bio", p.Bio)
	return set
}

// List returns profiles newest first, each joined with its approver's name.
func (r *ProfileRepository) List(ctx context.Context, filter ports.ProfileFilter) ([]domain.ProfileListing, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cur, err := r.col.Aggregate(ctx, listPipeline(filter))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer cur.Close(ctx)

	var docs []mongoProfileListing
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	out := make([]domain.ProfileListing, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.ProfileListing{
			Profile:        *d.Profile.toDomain(),
			ApprovedByName: d.ApprovedByName,
		})
	}
	return out, nil
}

func listPipeline(filter ports.ProfileFilter) mongo.Pipeline {
	match := bson.M{}
	if filter.Status != "" {
		match["approval_status"] = string(filter.Status)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
	}
	if filter.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: filter.Limit}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         collectionProfiles,
			"localField":   "approved_by",
			"foreignField": "user_id",
			"as":           "approver",
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"approved_by_name": bson.M{"$arrayElemAt": bson.A{"$approver.full_name", 0}},
		}}},
		bson.D{{Key: "$project", Value: bson.M{"approver": 0}}},
	)
	return pipeline
}

// EnsureIndexes creates necessary indexes on the profiles collection.
func (r *ProfileRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "approval_status", Value: 1}, {Key: "created_at", Value: -1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}
