package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Store defines the persistence contract for the sync protocol's version
// state: the global version row, versioned domain rows, and per-client
// mutation cursors.
//
// Why this exists:
//   - Mutation processing and pull computation should express protocol
//     behavior, not SQL details.
//   - Every invariant of the protocol (monotonic global version, monotonic
//     per-client cursors, tombstone diffing) depends on all reads and writes
//     happening inside one transaction, so the contract is transactional at
//     its surface.
//   - Tests can validate protocol behavior against any backend via this
//     abstraction.
type Store interface {
	// Init prepares schema/connection state needed before serving requests,
	// including seeding the global version row at 0.
	Init(ctx context.Context) error

	// Close releases resources held by the storage backend.
	Close() error

	// Read runs fn inside a read-only, snapshot-consistent transaction.
	//
	// Why: pull must compute its patch and cursor deltas against a single
	// consistent view of the store; a concurrently committing push is either
	// fully visible or not at all.
	Read(ctx context.Context, fn func(tx ReadTx) error) error

	// Write runs fn inside a read-write transaction. If fn returns an error
	// the transaction is rolled back and no partial state is visible.
	//
	// Why: each mutation is applied in exactly one transaction so a failure
	// never leaves a version advance without its cursor update or vice
	// versa.
	Write(ctx context.Context, fn func(tx WriteTx) error) error
}

// ReadTx is the read surface available inside both transaction kinds.
type ReadTx interface {
	// CurrentVersion returns the global version.
	CurrentVersion() (int64, error)

	// ChangedMessages returns domain rows with version > since, tombstones
	// included.
	ChangedMessages(since int64) ([]Message, error)

	// ChangedCursors returns client cursors in the group with version > since.
	ChangedCursors(groupID string, since int64) ([]ClientCursor, error)
}

// WriteTx is the write surface of a read-write transaction.
type WriteTx interface {
	ReadTx

	// LockVersion reads the global version while taking exclusive ownership
	// of the version row for the rest of the transaction.
	//
	// Why: the version row is the serialization point for concurrent
	// mutation application; two writers must never compute the same next
	// version.
	LockVersion() (int64, error)

	// SetVersion writes the global version.
	SetVersion(version int64) error

	// LastMutationID returns the highest mutation ID accepted from the
	// client, or 0 when the client has never been seen.
	LastMutationID(clientID string) (int64, error)

	// UpsertCursor creates or replaces the client's mutation cursor.
	UpsertCursor(clientID, groupID string, mutationID, version int64) error

	// PutMessage creates or replaces a domain row.
	PutMessage(m Message) error

	// Savepoint runs fn inside a nested savepoint. If fn fails, writes made
	// by fn are rolled back while the enclosing transaction continues.
	//
	// Why: a mutation whose domain logic fails is still recorded as
	// processed (cursor and version advance) but must leave no domain rows
	// behind.
	Savepoint(fn func() error) error
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
