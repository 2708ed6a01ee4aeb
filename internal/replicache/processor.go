package replicache

import (
	"context"
	"encoding/json"
	"log"

	"replichat/server/internal/storage"
)

// Mutation is one client mutation as submitted in a push.
type Mutation struct {
	ID        int64           `json:"id"`
	ClientID  string          `json:"clientID"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp"`
}

// Processor applies client mutations with idempotent, ordered, transactional
// semantics.
type Processor struct {
	store    storage.Store
	registry Registry
}

func NewProcessor(store storage.Store, registry Registry) *Processor {
	return &Processor{store: store, registry: registry}
}

// Process applies exactly one mutation in its own transaction.
//
// The version row lock serializes concurrent mutation application, so two
// mutations never compute the same next version. Duplicate mutations (ID at
// or below the client's cursor) are acknowledged without side effects;
// mutations ahead of the cursor fail with FutureMutationError. A mutation
// whose domain logic fails is still recorded as processed, advancing the
// cursor and global version, so the client never retries it; only its domain
// writes are rolled back.
func (p *Processor) Process(ctx context.Context, clientGroupID string, m Mutation) error {
	return p.store.Write(ctx, func(tx storage.WriteTx) error {
		prevVersion, err := tx.LockVersion()
		if err != nil {
			return err
		}
		nextVersion := prevVersion + 1

		lastMutationID, err := tx.LastMutationID(m.ClientID)
		if err != nil {
			return err
		}
		expectedID := lastMutationID + 1

		if m.ID < expectedID {
			// Clients resend mutations after connectivity loss.
			log.Printf("mutation %d from client %s already processed, skipping", m.ID, m.ClientID)
			return nil
		}
		if m.ID > expectedID {
			return &FutureMutationError{ClientID: m.ClientID, MutationID: m.ID, ExpectedID: expectedID}
		}

		if err := p.apply(tx, m, nextVersion); err != nil {
			log.Printf("mutation %d from client %s failed, advancing cursor anyway: %v", m.ID, m.ClientID, err)
		}

		if err := tx.UpsertCursor(m.ClientID, clientGroupID, expectedID, nextVersion); err != nil {
			return err
		}
		return tx.SetVersion(nextVersion)
	})
}

func (p *Processor) apply(tx storage.WriteTx, m Mutation, version int64) error {
	fn, ok := p.registry[m.Name]
	if !ok {
		return &UnknownMutationError{Name: m.Name}
	}
	return tx.Savepoint(func() error {
		return fn(tx, m.Args, version)
	})
}
