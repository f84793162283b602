// Package app wires configuration into the storage, identity, notification
// and lifecycle components shared by the server and the cmd tools.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shiftcrew/dispatch_backend/config"
	"github.com/shiftcrew/dispatch_backend/identity"
	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/notify"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	Store   repository.Store
	Emitter notify.Emitter
	Locker  workflow.Locker
	Engine  *workflow.Engine

	closers []func() error
}

// OpenStore connects the configured storage driver and returns it behind the
// bounded retry policy. The gorm handle is nil for the memory driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.Store, *gorm.DB, error) {
	var (
		store repository.Store
		db    *gorm.DB
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		store = repository.NewMemoryStore()
	default:
		var err error
		db, err = config.OpenDatabaseWithRetry(ctx, cfg.DB, logger)
		if err != nil {
			return nil, nil, err
		}
		store = repository.NewGormStore(db)
	}
	return repository.NewRetrying(store, cfg.StorageTimeout(), cfg.Storage.MaxRetries, logger), db, nil
}

// Open builds every component. migrate runs AutoMigrate on the MySQL driver
// unless SKIP_MIGRATIONS is set.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store, a.DB = store, db
	if db != nil {
		a.onClose(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if migrate && !cfg.SkipMigrations {
			if err := models.MigrateTable(db); err != nil {
				a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		} else if migrate {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
	}

	rdb, lockClient, err := config.ConnectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		// Redis only backs the identity cache and the sweep lock.
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; running without cache and lock: " + err.Error())
		rdb, lockClient = nil, nil
	}
	switch {
	case rdb != nil:
		a.Redis = rdb
		a.Locker = &workflow.RedisLocker{Client: lockClient}
		a.onClose(rdb.Close)
	case db != nil:
		a.Locker = &workflow.MySQLLocker{DB: db}
	}

	resolver, err := a.resolver(db, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}

	emitter, err := a.emitter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Emitter = emitter

	a.Engine = workflow.NewEngine(store, resolver, workflow.Options{
		InvitationTTL: cfg.InvitationTTL(),
		UniqueScope:   cfg.InvitationUniqueScope,
		Logger:        logger,
	})
	return a, nil
}

func (a *App) resolver(db *gorm.DB, rdb *redis.Client) (identity.Resolver, error) {
	var base identity.Resolver
	switch {
	case a.Config.IdentitySeedFile != "":
		static, err := identity.LoadStaticResolver(a.Config.IdentitySeedFile)
		if err != nil {
			return nil, err
		}
		base = static
	case db != nil:
		base = identity.NewGormDirectory(db)
	default:
		return nil, errors.New("memory storage needs IDENTITY_SEED_FILE")
	}
	if rdb == nil {
		return base, nil
	}
	return identity.NewCachedResolver(base, rdb, a.Config.IdentityCacheTTL(), a.Logger), nil
}

func (a *App) emitter(ctx context.Context) (notify.Emitter, error) {
	if a.Config.NotifyDriver != config.NotifyDriverPubSub {
		return &notify.LogEmitter{Logger: a.Logger}, nil
	}
	client, err := config.NewPubSubClient(ctx, a.Config.PubSub, a.Logger)
	if err != nil {
		return nil, err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, a.Config.PubSub.Topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	emitter := notify.NewPubSubEmitter(topic)
	a.onClose(func() error {
		emitter.Stop()
		return client.Close()
	})
	return emitter, nil
}

// Sweeper returns the expiry sweeper, locked through redis when it is up and
// through MySQL advisory locks otherwise.
func (a *App) Sweeper() *workflow.ExpirySweeper {
	return workflow.NewExpirySweeper(a.Engine.Invitations, a.Locker, a.Config.ExpirySweepInterval(), a.Logger)
}

func (a *App) Dispatcher() *workflow.OutboxDispatcher {
	return workflow.NewOutboxDispatcher(a.Store, a.Emitter, a.Logger)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.WithFields(logrus.Fields{"field": "shutdown"}).Warn("close: " + err.Error())
		}
	}
	a.closers = nil
}
