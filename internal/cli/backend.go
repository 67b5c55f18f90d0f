package cli

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/api/handler"
	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/core/service"
	"github.com/pcportal/portal-auth/internal/infrastructure/bids"
	"github.com/pcportal/portal-auth/internal/infrastructure/db/mongo"
	"github.com/pcportal/portal-auth/internal/infrastructure/db/postgres"
	"github.com/pcportal/portal-auth/internal/infrastructure/db/redis"
	"github.com/pcportal/portal-auth/internal/infrastructure/queue"
	"github.com/pcportal/portal-auth/internal/pkg/config"
)

// backend is the wired identity service for the configured storage driver.
type backend struct {
	profiles  ports.ProfileRepository
	creds     ports.CredentialRepository
	rpc       *bids.RPC
	bootstrap ports.AdminBootstrapper
	bus       ports.EventBus
	auth      *service.AuthService
	checks    map[string]handler.DependencyCheck
	closers   []func() error
}

// permissionSource lists the permission names known to the record store.
type permissionSource interface {
	Permissions(ctx context.Context) ([]string, error)
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	b := &backend{checks: make(map[string]handler.DependencyCheck)}

	var (
		perms     ports.PermissionRPC
		approvals ports.ApprovalRPC
		names     permissionSource
	)

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Storage.DatabaseURL})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.checks["postgres"] = db.PingContext

		store := postgres.NewStore(db, log)
		b.profiles, b.creds = store.Profiles, store.Credentials
		perms, approvals, names = store.RPC, store.RPC, store.RPC
		b.bootstrap = store.RPC
	case config.DriverMongo:
		client, db, err := mongo.Connect(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })
		b.checks["mongodb"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

		store := mongo.NewStore(db, log)
		if err := store.Prepare(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("prepare mongo: %w", err)
		}
		b.profiles, b.creds = store.Profiles, store.Credentials
		perms, approvals, names = store.Permissions, store.Approvals, store.Permissions
		b.bootstrap = store.Approvals
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	rdb, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, rdb.Close)
	b.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	if err := registerPermissions(ctx, names); err != nil {
		b.Close()
		return nil, err
	}

	dispatcher := queue.NewDispatcher(0, redis.NewEventBus(rdb, redis.DefaultChannel, log), log)
	dispatcher.Start(ctx)
	b.closers = append(b.closers, dispatcher.Close)
	b.bus = dispatcher
	b.rpc = bids.NewRPC(perms, approvals, b.bus, log)
	b.auth = service.NewAuthService(b.creds, b.profiles, redis.NewSessionStore(rdb), b.bus,
		cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, log)
	return b, nil
}

// registerPermissions extends the closed permission registry with the names
// granted in the record store.
func registerPermissions(ctx context.Context, src permissionSource) error {
	names, err := src.Permissions(ctx)
	if err != nil {
		return err
	}
	if err := domain.DefaultPermissions.Register(names...); err != nil {
		return fmt.Errorf("register permissions: %w", err)
	}
	return nil
}

// Close releases every connection in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && !errors.Is(err, goredis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
