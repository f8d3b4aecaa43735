// Package relaypool provides a top-level convenience entry point for building
// an account scheduler with minimal boilerplate.
//
// Usage:
//
//	import "github.com/tensorgate/relaypool"
//
//	p, err := relaypool.New(relaypool.WithSQLite("relaypool.db"), relaypool.WithRedis("localhost:6379"))
//	p, err := relaypool.New(relaypool.WithPostgres(dsn), relaypool.WithRedis("redis:6379"))
//	p, err := relaypool.New(relaypool.WithDB(myGormDB), relaypool.WithRedis("localhost:6379"))
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package relaypool

import (
	"github.com/tensorgate/relaypool/quick"
)

// Option configures the scheduler built by [New].
type Option = quick.Option

// Pool bundles the scheduler service with its backing store connections.
// Close releases everything the Pool owns.
type Pool = quick.Pool

// New builds a ready-to-use scheduler [Pool] with minimal configuration.
// At minimum, a database must be specified via [WithPostgres], [WithMySQL],
// [WithSQLite], or [WithDB].
func New(opts ...Option) (*Pool, error) {
	return quick.New(opts...)
}

// Re-export construction shortcuts so callers never need to import quick/.

// WithDB sets a pre-built GORM database handle.
var WithDB = quick.WithDB

// WithPostgres opens a PostgreSQL account store. DSN from DATABASE_URL env when empty.
var WithPostgres = quick.WithPostgres

// WithMySQL opens a MySQL account store. DSN from DATABASE_URL env when empty.
var WithMySQL = quick.WithMySQL

// WithSQLite opens a SQLite account store at the given file path.
var WithSQLite = quick.WithSQLite

// WithRedis sets the Redis address backing sessions, cursors and usage counts.
var WithRedis = quick.WithRedis

// WithRedisPassword sets the Redis password.
var WithRedisPassword = quick.WithRedisPassword

// WithRedisDB selects the Redis database number.
var WithRedisDB = quick.WithRedisDB

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithStrictDedicatedBinding controls dedicated-binding failure behavior.
var WithStrictDedicatedBinding = quick.WithStrictDedicatedBinding

// WithSessionTTL overrides the sticky session lifetime.
var WithSessionTTL = quick.WithSessionTTL

// WithSelectionTimeout bounds how long a single selection may take.
var WithSelectionTimeout = quick.WithSelectionTimeout
