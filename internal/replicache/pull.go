package replicache

import (
	"context"

	"replichat/server/internal/storage"
)

const messageKeyPrefix = "message/"

// PatchOperation is one step in transforming a client replica: a put of the
// row's current value or a deletion keyed by the row's stable key.
type PatchOperation struct {
	Op    string       `json:"op"`
	Key   string       `json:"key"`
	Value *MessageBody `json:"value,omitempty"`
}

// MessageBody is the client-visible payload of a message row.
type MessageBody struct {
	From    string `json:"from"`
	Content string `json:"content"`
	Order   int64  `json:"order"`
}

// PullResponse carries everything a client needs to converge from its cookie
// to the current version.
type PullResponse struct {
	Cookie                int64            `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}

// BuildPull computes the patch and cursor deltas since cookie for a client
// group, all under one consistent read snapshot. A cookie ahead of the
// current version yields a FutureCookieError.
func BuildPull(ctx context.Context, store storage.Store, clientGroupID string, cookie int64) (*PullResponse, error) {
	var response *PullResponse
	err := store.Read(ctx, func(tx storage.ReadTx) error {
		currentVersion, err := tx.CurrentVersion()
		if err != nil {
			return err
		}
		if cookie > currentVersion {
			return &FutureCookieError{Cookie: cookie, CurrentVersion: currentVersion}
		}

		cursors, err := tx.ChangedCursors(clientGroupID, cookie)
		if err != nil {
			return err
		}
		changes := make(map[string]int64, len(cursors))
		for _, c := range cursors {
			changes[c.ClientID] = c.LastMutationID
		}

		messages, err := tx.ChangedMessages(cookie)
		if err != nil {
			return err
		}
		patch := make([]PatchOperation, 0, len(messages))
		for _, m := range messages {
			key := messageKeyPrefix + m.ID
			if m.Deleted {
				patch = append(patch, PatchOperation{Op: "del", Key: key})
				continue
			}
			patch = append(patch, PatchOperation{
				Op:  "put",
				Key: key,
				Value: &MessageBody{
					From:    m.Sender,
					Content: m.Content,
					Order:   m.Ord,
				},
			})
		}

		response = &PullResponse{
			Cookie:                currentVersion,
			LastMutationIDChanges: changes,
			Patch:                 patch,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}
