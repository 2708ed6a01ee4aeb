package replicache

import (
	"encoding/json"
	"errors"
	"fmt"

	"replichat/server/internal/storage"
)

type createMessageArgs struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Content string `json:"content"`
	Order   int64  `json:"order"`
}

// CreateMessage appends or updates a chat message row.
func CreateMessage(tx storage.WriteTx, args json.RawMessage, version int64) error {
	var a createMessageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("createMessage args: %w", err)
	}
	if a.ID == "" {
		return errors.New("createMessage: message id is required")
	}
	return tx.PutMessage(storage.Message{
		ID:      a.ID,
		Sender:  a.From,
		Content: a.Content,
		Ord:     a.Order,
		Version: version,
	})
}

// DefaultRegistry returns the mutator set served by this instance.
func DefaultRegistry() Registry {
	registry := NewRegistry()
	registry.Register("createMessage", CreateMessage)
	return registry
}
