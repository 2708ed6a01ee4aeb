package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_server (
	id INTEGER PRIMARY KEY NOT NULL,
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	ord INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_version ON message(version);

CREATE TABLE IF NOT EXISTS sync_client (
	id TEXT PRIMARY KEY NOT NULL,
	client_group_id TEXT NOT NULL,
	last_mutation_id INTEGER NOT NULL,
	version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_client_group ON sync_client(client_group_id, version);
`

// serverRowID identifies the single global version row.
const serverRowID = 1

// SQLiteStore is a SQLite-backed implementation of Store.
//
// Writes go through a dedicated single-connection handle that opens
// immediate transactions: SQLite serializes write transactions database-wide,
// which subsumes the per-row lock LockVersion promises. Reads use a separate
// pooled handle; under WAL they see a consistent snapshot without blocking
// writers.
type SQLiteStore struct {
	db      *sql.DB
	writeDB *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	writeDB, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate&_pragma=busy_timeout(5000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, writeDB: writeDB}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_server (id, version) VALUES (?, 0)
	`, serverRowID); err != nil {
		return fmt.Errorf("seed version row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	err := s.writeDB.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

func (s *SQLiteStore) Read(ctx context.Context, fn func(tx ReadTx) error) error {
	return runTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn(&sqliteTx{ctx: ctx, tx: tx})
	})
}

func (s *SQLiteStore) Write(ctx context.Context, fn func(tx WriteTx) error) error {
	return runTx(ctx, s.writeDB, nil, func(tx *sql.Tx) error {
		return fn(&sqliteTx{ctx: ctx, tx: tx})
	})
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) CurrentVersion() (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT version FROM sync_server WHERE id = ?
	`, serverRowID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

func (t *sqliteTx) LockVersion() (int64, error) {
	// The immediate write transaction already holds the database write lock.
	return t.CurrentVersion()
}

func (t *sqliteTx) SetVersion(version int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		UPDATE sync_server SET version = ? WHERE id = ?
	`, version, serverRowID); err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	return nil
}

func (t *sqliteTx) LastMutationID(clientID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT last_mutation_id FROM sync_client WHERE id = ?
	`, clientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) UpsertCursor(clientID, groupID string, mutationID, version int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sync_client (id, client_group_id, last_mutation_id, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_group_id = excluded.client_group_id,
			last_mutation_id = excluded.last_mutation_id,
			version = excluded.version
	`, clientID, groupID, mutationID, version); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (t *sqliteTx) PutMessage(m Message) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO message (id, sender, content, ord, deleted, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender = excluded.sender,
			content = excluded.content,
			ord = excluded.ord,
			deleted = excluded.deleted,
			version = excluded.version
	`, m.ID, m.Sender, m.Content, m.Ord, m.Deleted, m.Version); err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

func (t *sqliteTx) ChangedMessages(since int64) ([]Message, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, sender, content, ord, deleted, version
		FROM message
		WHERE version > ?
		ORDER BY id ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &m.Ord, &m.Deleted, &m.Version); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (t *sqliteTx) ChangedCursors(groupID string, since int64) ([]ClientCursor, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, client_group_id, last_mutation_id, version
		FROM sync_client
		WHERE client_group_id = ? AND version > ?
		ORDER BY id ASC
	`, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	cursors := make([]ClientCursor, 0)
	for rows.Next() {
		var c ClientCursor
		if err := rows.Scan(&c.ClientID, &c.ClientGroupID, &c.LastMutationID, &c.Version); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}

func (t *sqliteTx) Savepoint(fn func() error) error {
	if _, err := t.tx.ExecContext(t.ctx, "SAVEPOINT apply"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(t.ctx, "ROLLBACK TO SAVEPOINT apply"); rbErr != nil {
			return fmt.Errorf("rollback savepoint: %w", rbErr)
		}
		if _, relErr := t.tx.ExecContext(t.ctx, "RELEASE SAVEPOINT apply"); relErr != nil {
			return fmt.Errorf("release savepoint: %w", relErr)
		}
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, "RELEASE SAVEPOINT apply"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
