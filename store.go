// Package store implements the resource store behind the system REST API:
// an explicit registry of resources, a record store that runs each
// resource's lifecycle pipeline around a pluggable backend, a batch
// executor with rollback and continue-on-error semantics, and the response
// projector that shapes records and their relations for output.
//
// Backend implementations live in sub-packages: sql (database/sql drivers)
// and kv (key/value connections).
package store

import (
	"context"
)

// Service defines the lifecycle common to all storage services.
type Service interface {
	// Connect establishes the connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and releases resources
	Close() error

	// Stats returns backend-specific statistics
	Stats() interface{}
}

// Transactor provides a backend-agnostic transaction execution contract.
type Transactor interface {
	// WithTx executes fn within a read-write transaction. The provided
	// context carries the backend transaction handle; nested calls made with
	// that context join the outer transaction. When fn fails the transaction
	// is rolled back and fn's error is returned unchanged.
	WithTx(ctx context.Context, fn func(context.Context) error) error

	// WithReadTx executes fn within a read-only transaction when supported.
	WithReadTx(ctx context.Context, fn func(context.Context) error) error
}

// Backend is the persistence provider behind a RecordStore. It addresses
// tables, not resources: the lifecycle pipeline stays in the store.
type Backend interface {
	Service
	Transactor

	// Name identifies the backend in logs.
	Name() string

	// Query returns the rows of table matching c, in c's order.
	Query(ctx context.Context, table string, c Criteria) ([]*Record, error)

	// Count returns the number of rows of table matching c.
	Count(ctx context.Context, table string, c Criteria) (int64, error)

	// Mutate applies an Insert, Update or Delete to table.
	Mutate(ctx context.Context, table string, m Mutation) (MutationResult, error)
}

