package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// PermissionRepository implements ports.PermissionRPC using MongoDB. Grants
// are stored per role in the role_permissions collection.
type PermissionRepository struct {
	profiles *ProfileRepository
	grants   *mongo.Collection
}

func NewPermissionRepository(db *mongo.Database, profiles *ProfileRepository) *PermissionRepository {
	return &PermissionRepository{profiles: profiles, grants: db.Collection(collectionRoleGrants)}
}

type roleGrant struct {
	ProfileType string   `bson:"profile_type"`
	Permissions []string `bson:"permissions"`
}

// HasPermission evaluates name against the user's profile and its role grants.
// A user without a profile holds nothing.
func (r *PermissionRepository) HasPermission(ctx context.Context, userID string, name domain.Permission) (bool, error) {
	p, err := r.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("has permission: %w", err)
	}

	grants, err := r.roleGrants(ctx, p.ProfileType)
	if err != nil {
		return false, fmt.Errorf("has permission: %w", err)
	}
	return domain.Holds(p, grants, name), nil
}

func (r *PermissionRepository) roleGrants(ctx context.Context, pt domain.ProfileType) (map[domain.ProfileType][]domain.Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var g roleGrant
	err := r.grants.FindOne(ctx, bson.M{"profile_type": string(pt)}).Decode(&g)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[domain.ProfileType][]domain.Permission{}, nil
		}
		return nil, err
	}
	perms := make([]domain.Permission, 0, len(g.Permissions))
	for _, n := range g.Permissions {
		perms = append(perms, domain.Permission(n))
	}
	return map[domain.ProfileType][]domain.Permission{pt: perms}, nil
}

// SeedDefaults inserts the built-in grants for roles that have none yet.
// Existing grants are left untouched so operators can edit them.
func (r *PermissionRepository) SeedDefaults(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	for pt, perms := range domain.DefaultRoleGrants {
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		_, err := r.grants.UpdateOne(ctx,
			bson.M{"profile_type": string(pt)},
			bson.M{"$setOnInsert": roleGrant{ProfileType: string(pt), Permissions: names}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("seed %s: %w", pt, err)
		}
	}
	return nil
}

// Permissions lists every permission name granted to any role. The names are
// fed to the permission registry at startup.
func (r *PermissionRepository) Permissions(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.grants.Distinct(ctx, "permissions", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	out := make([]string, 0, len(res))
	for _, v := range res {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
