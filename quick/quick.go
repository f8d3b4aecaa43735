// =============================================================================
// Package quick - One-Line Scheduler Construction
// =============================================================================
// Provides a convenience entry point for building a ready-to-use account
// scheduler with minimal boilerplate. Delegates to internal/database,
// internal/cache and the scheduler package internally.
//
// Usage:
//
//	import "github.com/tensorgate/relaypool/quick"
//
//	p, err := quick.New(quick.WithSQLite("relaypool.db"), quick.WithRedis("localhost:6379"))
//	p, err := quick.New(quick.WithPostgres(dsn), quick.WithRedis("redis:6379"))
//	p, err := quick.New(quick.WithDB(myGormDB), quick.WithRedis("localhost:6379"))
//
// =============================================================================
package quick

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tensorgate/relaypool/internal/cache"
	"github.com/tensorgate/relaypool/internal/database"
	"github.com/tensorgate/relaypool/scheduler"
)

// Option configures the scheduler built by New.
type Option func(*options)

type options struct {
	db     *gorm.DB
	logger *zap.Logger

	// Driver shortcut fields, used when db is nil.
	driver string
	dsn    string

	redisAddr     string
	redisPassword string
	redisDB       int

	svcOpts []scheduler.Option
}

// WithDB sets a pre-built GORM database handle. The caller keeps ownership;
// Close will not touch it.
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithPostgres opens a PostgreSQL account store using the given DSN.
// Falls back to the DATABASE_URL environment variable when dsn is empty.
func WithPostgres(dsn string) Option {
	return func(o *options) {
		o.driver = "postgres"
		o.dsn = dsn
		if o.dsn == "" {
			o.dsn = os.Getenv("DATABASE_URL")
		}
	}
}

// WithMySQL opens a MySQL account store using the given DSN.
// Falls back to the DATABASE_URL environment variable when dsn is empty.
func WithMySQL(dsn string) Option {
	return func(o *options) {
		o.driver = "mysql"
		o.dsn = dsn
		if o.dsn == "" {
			o.dsn = os.Getenv("DATABASE_URL")
		}
	}
}

// WithSQLite opens a SQLite account store at the given file path.
func WithSQLite(path string) Option {
	return func(o *options) {
		o.driver = "sqlite"
		o.dsn = path
	}
}

// WithRedis sets the Redis address backing sessions, cursors and usage counts.
func WithRedis(addr string) Option {
	return func(o *options) { o.redisAddr = addr }
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) Option {
	return func(o *options) { o.redisPassword = password }
}

// WithRedisDB selects the Redis database number.
func WithRedisDB(db int) Option {
	return func(o *options) { o.redisDB = db }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStrictDedicatedBinding controls whether a dedicated-account request
// fails outright when the bound account is unavailable.
func WithStrictDedicatedBinding(strict bool) Option {
	return func(o *options) {
		o.svcOpts = append(o.svcOpts, scheduler.WithStrictDedicatedBinding(strict))
	}
}

// WithSessionTTL overrides the sticky session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.svcOpts = append(o.svcOpts, scheduler.WithSessionTTL(ttl))
	}
}

// WithSelectionTimeout bounds how long a single selection may take.
func WithSelectionTimeout(d time.Duration) Option {
	return func(o *options) {
		o.svcOpts = append(o.svcOpts, scheduler.WithSelectionTimeout(d))
	}
}

// Pool 将调度服务与其底层存储连接捆绑为单一句柄，
// Close 时按依赖顺序释放全部资源。
type Pool struct {
	*scheduler.Service

	cache  *cache.Manager
	db     *gorm.DB
	ownsDB bool
}

// Close 先排空调度服务的异步写入，再关闭 Redis 与数据库连接。
// 通过 WithDB 注入的数据库由调用方负责关闭。
func (p *Pool) Close() error {
	var errs []error
	if err := p.Service.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close scheduler service: %w", err))
	}
	if p.cache != nil {
		if err := p.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if p.ownsDB && p.db != nil {
		if sqlDB, err := p.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// New builds a ready-to-use scheduler Pool with minimal configuration.
// The account schema is migrated automatically; at minimum a database must
// be specified via WithDB, WithPostgres, WithMySQL, or WithSQLite.
func New(opts ...Option) (*Pool, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// Resolve database.
	db := o.db
	ownsDB := false
	if db == nil {
		if o.driver == "" {
			return nil, fmt.Errorf("database is required: use WithDB, WithPostgres, WithMySQL, or WithSQLite")
		}
		if o.dsn == "" {
			return nil, fmt.Errorf("DSN is required for %s: set DATABASE_URL or pass it explicitly", o.driver)
		}
		var err error
		db, err = database.Open(o.driver, o.dsn, o.logger)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", o.driver, err)
		}
		ownsDB = true
	}

	if err := scheduler.InitDatabase(db); err != nil {
		return nil, fmt.Errorf("migrate account schema: %w", err)
	}

	if o.redisAddr == "" {
		o.redisAddr = os.Getenv("REDIS_ADDR")
	}
	if o.redisAddr == "" {
		return nil, fmt.Errorf("redis address is required: use WithRedis or set REDIS_ADDR")
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = o.redisAddr
	cacheCfg.Password = o.redisPassword
	cacheCfg.DB = o.redisDB
	cacheManager, err := cache.NewManager(cacheCfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", o.redisAddr, err)
	}

	// GormStore 同时实现账户与分组存储
	gormStore := scheduler.NewGormStore(db, o.logger)
	svcOpts := append([]scheduler.Option{scheduler.WithLogger(o.logger)}, o.svcOpts...)
	svc, err := scheduler.NewService(scheduler.Stores{
		Accounts: gormStore,
		Groups:   gormStore,
		Sessions: scheduler.NewRedisSessionStore(cacheManager, o.logger),
		Cursors:  scheduler.NewRedisCursorStore(cacheManager, o.logger),
		Usage:    scheduler.NewRedisUsageStore(cacheManager, o.logger),
	}, svcOpts...)
	if err != nil {
		cacheManager.Close()
		return nil, fmt.Errorf("build scheduler service: %w", err)
	}

	return &Pool{Service: svc, cache: cacheManager, db: db, ownsDB: ownsDB}, nil
}
