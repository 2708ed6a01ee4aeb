package storage

import (
	"context"
	"errors"
	"os"
	"testing"
)

// Postgres tests need a live database and are skipped unless
// SYNC_TEST_POSTGRES_DSN points at one the test may truncate.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SYNC_TEST_POSTGRES_DSN not set")
	}
	store, err := OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init postgres: %v", err)
	}
	for _, stmt := range []string{
		"TRUNCATE message",
		"TRUNCATE sync_client",
		"UPDATE sync_server SET version = 0",
	} {
		if _, err := store.db.Exec(stmt); err != nil {
			t.Fatalf("reset postgres: %v", err)
		}
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresWriteVisibleAfterCommit(t *testing.T) {
	store := newPostgresStore(t)
	err := store.Write(context.Background(), func(tx WriteTx) error {
		prev, err := tx.LockVersion()
		if err != nil {
			return err
		}
		if prev != 0 {
			t.Fatalf("locked version: got %d", prev)
		}
		if err := tx.PutMessage(Message{ID: "m1", Sender: "alice", Content: "hi", Ord: 1, Version: 1}); err != nil {
			return err
		}
		if err := tx.UpsertCursor("c1", "g1", 1, 1); err != nil {
			return err
		}
		return tx.SetVersion(1)
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := readVersion(t, store); v != 1 {
		t.Fatalf("version: got %d", v)
	}
	err = store.Read(context.Background(), func(tx ReadTx) error {
		messages, err := tx.ChangedMessages(0)
		if err != nil {
			return err
		}
		if len(messages) != 1 || messages[0].ID != "m1" {
			t.Fatalf("messages: got %+v", messages)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestPostgresSavepointRollsBackOnlyDomainWrites(t *testing.T) {
	store := newPostgresStore(t)
	err := store.Write(context.Background(), func(tx WriteTx) error {
		applyErr := tx.Savepoint(func() error {
			if err := tx.PutMessage(Message{ID: "m1", Sender: "alice", Content: "hi", Ord: 1, Version: 1}); err != nil {
				return err
			}
			return errors.New("validation failed")
		})
		if applyErr == nil {
			t.Fatalf("savepoint should surface the apply error")
		}
		if err := tx.UpsertCursor("c1", "g1", 1, 1); err != nil {
			return err
		}
		return tx.SetVersion(1)
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	err = store.Read(context.Background(), func(tx ReadTx) error {
		messages, err := tx.ChangedMessages(0)
		if err != nil {
			return err
		}
		if len(messages) != 0 {
			t.Fatalf("messages should be rolled back: got %+v", messages)
		}
		cursors, err := tx.ChangedCursors("g1", 0)
		if err != nil {
			return err
		}
		if len(cursors) != 1 {
			t.Fatalf("cursor should survive: got %+v", cursors)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}
