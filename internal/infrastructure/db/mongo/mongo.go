package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultTimeout = 10 * time.Second

const (
	collectionProfiles    = "profiles"
	collectionCredentials = "credentials"
	collectionRoleGrants  = "role_permissions"
	collectionApprovals   = "approval_events"
)

// Config captures the minimal settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database. A default timeout is
// applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	return client, db, nil
}

// Store bundles the repositories backed by one database.
type Store struct {
	Profiles    *ProfileRepository
	Credentials *CredentialRepository
	Approvals   *ApprovalRepository
	Permissions *PermissionRepository
}

// NewStore wires every repository on db.
func NewStore(db *mongo.Database, log zerolog.Logger) *Store {
	profiles := NewProfileRepository(db)
	return &Store{
		Profiles:    profiles,
		Credentials: NewCredentialRepository(db),
		Approvals:   NewApprovalRepository(db, profiles, log),
		Permissions: NewPermissionRepository(db, profiles),
	}
}

// Prepare creates indexes and seeds the default role grants. It is
// idempotent and runs at startup.
func (s *Store) Prepare(ctx context.Context) error {
	if err := s.Profiles.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("profile indexes: %w", err)
	}
	if err := s.Credentials.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("credential indexes: %w", err)
	}
	if err := s.Permissions.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("seed role grants: %w", err)
	}
	return nil
}
