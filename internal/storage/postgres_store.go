package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sync_server (
	id INTEGER PRIMARY KEY NOT NULL,
	version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	ord BIGINT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	version BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_version ON message(version);

CREATE TABLE IF NOT EXISTS sync_client (
	id TEXT PRIMARY KEY NOT NULL,
	client_group_id TEXT NOT NULL,
	last_mutation_id BIGINT NOT NULL,
	version BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_client_group ON sync_client(client_group_id, version);
`

// PostgresStore is a Postgres-backed implementation of Store. Transactions
// run at repeatable read, Postgres's name for snapshot isolation; writers
// serialize against each other on the version row via SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_server (id, version) VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, serverRowID); err != nil {
		return fmt.Errorf("seed version row: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Read(ctx context.Context, fn func(tx ReadTx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	return runTx(ctx, s.db, opts, func(tx *sql.Tx) error {
		return fn(&postgresTx{ctx: ctx, tx: tx})
	})
}

func (s *PostgresStore) Write(ctx context.Context, fn func(tx WriteTx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	return runTx(ctx, s.db, opts, func(tx *sql.Tx) error {
		return fn(&postgresTx{ctx: ctx, tx: tx})
	})
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) CurrentVersion() (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT version FROM sync_server WHERE id = $1
	`, serverRowID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

func (t *postgresTx) LockVersion() (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT version FROM sync_server WHERE id = $1 FOR UPDATE
	`, serverRowID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("lock version: %w", err)
	}
	return version, nil
}

func (t *postgresTx) SetVersion(version int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		UPDATE sync_server SET version = $1 WHERE id = $2
	`, version, serverRowID); err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	return nil
}

func (t *postgresTx) LastMutationID(clientID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT last_mutation_id FROM sync_client WHERE id = $1
	`, clientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return id, nil
}

func (t *postgresTx) UpsertCursor(clientID, groupID string, mutationID, version int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sync_client (id, client_group_id, last_mutation_id, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			client_group_id = EXCLUDED.client_group_id,
			last_mutation_id = EXCLUDED.last_mutation_id,
			version = EXCLUDED.version
	`, clientID, groupID, mutationID, version); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (t *postgresTx) PutMessage(m Message) error {
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO message (id, sender, content, ord, deleted, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			sender = EXCLUDED.sender,
			content = EXCLUDED.content,
			ord = EXCLUDED.ord,
			deleted = EXCLUDED.deleted,
			version = EXCLUDED.version
	`, m.ID, m.Sender, m.Content, m.Ord, m.Deleted, m.Version); err != nil {
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

func (t *postgresTx) ChangedMessages(since int64) ([]Message, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, sender, content, ord, deleted, version
		FROM message
		WHERE version > $1
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

func (t *postgresTx) ChangedCursors(groupID string, since int64) ([]ClientCursor, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, client_group_id, last_mutation_id, version
		FROM sync_client
		WHERE client_group_id = $1 AND version > $2
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

func (t *postgresTx) Savepoint(fn func() error) error {
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
