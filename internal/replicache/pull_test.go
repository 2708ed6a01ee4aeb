package replicache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"replichat/server/internal/storage"
)

func TestPullFromZeroReconstructs(t *testing.T) {
	processor, store := newTestProcessor(t)
	if err := processor.Process(context.Background(), "g1", createMessageMutation(1, "c1", "m1")); err != nil {
		t.Fatalf("process: %v", err)
	}

	response, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if response.Cookie != 1 {
		t.Fatalf("cookie: got %d", response.Cookie)
	}
	if len(response.LastMutationIDChanges) != 1 || response.LastMutationIDChanges["c1"] != 1 {
		t.Fatalf("lastMutationIDChanges: got %+v", response.LastMutationIDChanges)
	}
	if len(response.Patch) != 1 {
		t.Fatalf("patch: got %+v", response.Patch)
	}
	op := response.Patch[0]
	if op.Op != "put" || op.Key != "message/m1" {
		t.Fatalf("patch op: got %+v", op)
	}
	if op.Value == nil || op.Value.From != "alice" || op.Value.Content != "hi" || op.Value.Order != 1 {
		t.Fatalf("patch value: got %+v", op.Value)
	}
}

func TestPullAtCurrentCookieIsEmpty(t *testing.T) {
	processor, store := newTestProcessor(t)
	if err := processor.Process(context.Background(), "g1", createMessageMutation(1, "c1", "m1")); err != nil {
		t.Fatalf("process: %v", err)
	}

	response, err := BuildPull(context.Background(), store, "g1", 1)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if response.Cookie != 1 {
		t.Fatalf("cookie: got %d", response.Cookie)
	}
	if len(response.Patch) != 0 {
		t.Fatalf("patch should be empty: %+v", response.Patch)
	}
	if len(response.LastMutationIDChanges) != 0 {
		t.Fatalf("lastMutationIDChanges should be empty: %+v", response.LastMutationIDChanges)
	}
}

func TestPullRoundTripConverges(t *testing.T) {
	processor, store := newTestProcessor(t)
	for id := int64(1); id <= 3; id++ {
		m := createMessageMutation(id, "c1", fmt.Sprintf("m%d", id))
		if err := processor.Process(context.Background(), "g1", m); err != nil {
			t.Fatalf("process %d: %v", id, err)
		}
	}

	first, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("first pull: %v", err)
	}
	if len(first.Patch) != 3 {
		t.Fatalf("first patch: got %+v", first.Patch)
	}

	second, err := BuildPull(context.Background(), store, "g1", first.Cookie)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(second.Patch) != 0 || len(second.LastMutationIDChanges) != 0 {
		t.Fatalf("second pull should be empty: %+v", second)
	}

	if err := processor.Process(context.Background(), "g1", createMessageMutation(4, "c1", "m4")); err != nil {
		t.Fatalf("process: %v", err)
	}
	third, err := BuildPull(context.Background(), store, "g1", second.Cookie)
	if err != nil {
		t.Fatalf("third pull: %v", err)
	}
	if len(third.Patch) != 1 || third.Patch[0].Key != "message/m4" {
		t.Fatalf("third patch: got %+v", third.Patch)
	}
}

func TestPullIsIdempotent(t *testing.T) {
	processor, store := newTestProcessor(t)
	if err := processor.Process(context.Background(), "g1", createMessageMutation(1, "c1", "m1")); err != nil {
		t.Fatalf("process: %v", err)
	}

	first, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("first pull: %v", err)
	}
	second, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if first.Cookie != second.Cookie || len(first.Patch) != len(second.Patch) {
		t.Fatalf("pulls differ: %+v vs %+v", first, second)
	}
	for i := range first.Patch {
		if first.Patch[i].Key != second.Patch[i].Key || first.Patch[i].Op != second.Patch[i].Op {
			t.Fatalf("patch op %d differs: %+v vs %+v", i, first.Patch[i], second.Patch[i])
		}
	}
}

func TestPullFutureCookieFails(t *testing.T) {
	_, store := newTestProcessor(t)

	_, err := BuildPull(context.Background(), store, "g1", 5)
	var future *FutureCookieError
	if !errors.As(err, &future) {
		t.Fatalf("expected FutureCookieError, got %v", err)
	}
	if future.Cookie != 5 || future.CurrentVersion != 0 {
		t.Fatalf("error detail: got %+v", future)
	}
}

func TestPullEmitsTombstoneDeletes(t *testing.T) {
	_, store := newTestProcessor(t)
	err := store.Write(context.Background(), func(tx storage.WriteTx) error {
		if err := tx.PutMessage(storage.Message{ID: "m1", Sender: "alice", Content: "hi", Ord: 1, Version: 1}); err != nil {
			return err
		}
		if err := tx.PutMessage(storage.Message{ID: "m2", Sender: "bob", Content: "bye", Ord: 2, Deleted: true, Version: 2}); err != nil {
			return err
		}
		return tx.SetVersion(2)
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	response, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(response.Patch) != 2 {
		t.Fatalf("patch: got %+v", response.Patch)
	}
	for _, op := range response.Patch {
		switch op.Key {
		case "message/m1":
			if op.Op != "put" || op.Value == nil {
				t.Fatalf("m1 op: got %+v", op)
			}
		case "message/m2":
			if op.Op != "del" || op.Value != nil {
				t.Fatalf("m2 op: got %+v", op)
			}
		default:
			t.Fatalf("unexpected key %q", op.Key)
		}
	}

	// A client already past the tombstone's version never sees the delete.
	later, err := BuildPull(context.Background(), store, "g1", 2)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(later.Patch) != 0 {
		t.Fatalf("patch past tombstone: got %+v", later.Patch)
	}
}

func TestPullFiltersCursorsByGroup(t *testing.T) {
	processor, store := newTestProcessor(t)
	if err := processor.Process(context.Background(), "g1", createMessageMutation(1, "c1", "m1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := processor.Process(context.Background(), "g2", createMessageMutation(1, "c2", "m2")); err != nil {
		t.Fatalf("process: %v", err)
	}

	response, err := BuildPull(context.Background(), store, "g1", 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(response.LastMutationIDChanges) != 1 || response.LastMutationIDChanges["c1"] != 1 {
		t.Fatalf("lastMutationIDChanges: got %+v", response.LastMutationIDChanges)
	}
	// Domain rows are shared across groups.
	if len(response.Patch) != 2 {
		t.Fatalf("patch: got %+v", response.Patch)
	}
}
